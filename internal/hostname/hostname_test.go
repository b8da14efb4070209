package hostname

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSetReplacesExistingDirective(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")
	original := "[system]\nhostname = \"raspberrypi\"\n\n[wifi]\ncountry = \"CH\"\n"
	if err := os.WriteFile(file, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	applied, err := NewConfigurator(testLogger()).Set(file, "azaan-pi")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !applied {
		t.Error("Set() applied = false, want true")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "hostname = \"azaan-pi\"") {
		t.Errorf("directive not replaced:\n%s", content)
	}
	if strings.Contains(content, "raspberrypi") {
		t.Errorf("old hostname still present:\n%s", content)
	}
	if !strings.Contains(content, "country = \"CH\"") {
		t.Errorf("unrelated settings lost:\n%s", content)
	}
}

func TestSetAppendsWhenDirectiveMissing(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(file, []byte("[wifi]\ncountry = \"CH\""), 0o644); err != nil {
		t.Fatal(err)
	}

	applied, err := NewConfigurator(testLogger()).Set(file, "azaan-pi")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !applied {
		t.Error("Set() applied = false, want true")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "[system]\nhostname = \"azaan-pi\"") {
		t.Errorf("directive not appended:\n%s", content)
	}
	if !strings.Contains(content, "country = \"CH\"") {
		t.Errorf("existing settings lost:\n%s", content)
	}
}

func TestSetReusesExistingSystemTable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")
	original := "[system]\nenable_ssh = true\n\n[wifi]\ncountry = \"CH\"\n"
	if err := os.WriteFile(file, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	applied, err := NewConfigurator(testLogger()).Set(file, "azaan-pi")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !applied {
		t.Error("Set() applied = false, want true")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if got := strings.Count(content, "[system]"); got != 1 {
		t.Errorf("[system] table count = %d, want 1:\n%s", got, content)
	}
	if !strings.Contains(content, "[system]\nhostname = \"azaan-pi\"\nenable_ssh = true") {
		t.Errorf("directive not placed inside the existing table:\n%s", content)
	}
	if !strings.Contains(content, "country = \"CH\"") {
		t.Errorf("unrelated settings lost:\n%s", content)
	}
}

func TestSetMissingFirmwareFileTolerated(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")

	applied, err := NewConfigurator(testLogger()).Set(file, "azaan-pi")
	if err != nil {
		t.Fatalf("Set() error = %v, want nil", err)
	}
	if applied {
		t.Error("Set() applied = true, want false")
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("firmware file was created, want it left absent")
	}
}

func TestSetIdempotent(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(file, []byte("[system]\nhostname = \"old\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewConfigurator(testLogger())
	for i := 0; i < 2; i++ {
		if _, err := c.Set(file, "azaan-pi"); err != nil {
			t.Fatalf("Set() run %d error = %v", i+1, err)
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "[system]\nhostname = \"azaan-pi\"\n"; got != want {
		t.Errorf("content after two runs = %q, want %q", got, want)
	}
}
