package systemd

import "testing"

func TestNewClient(t *testing.T) {
	c := NewClient()
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
}

func TestClientImplementsManager(t *testing.T) {
	var _ Manager = NewClient()
}
