package unit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	d := Definition{
		Name:        "azaan",
		Description: "Azaan playback service",
		User:        "pi",
		WorkDir:     "/opt/azaan/app",
		Exec:        "/opt/azaan/app/venv/bin/python /opt/azaan/app/azaan.py",
	}

	text, err := Render(d)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	for _, want := range []string{
		"Description=Azaan playback service",
		"User=pi",
		"WorkingDirectory=/opt/azaan/app",
		"ExecStart=/opt/azaan/app/venv/bin/python /opt/azaan/app/azaan.py",
		"Restart=always",
		"RestartSec=10",
		"Environment=PYTHONUNBUFFERED=1",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("unit missing %q:\n%s", want, text)
		}
	}
}

func TestRender_MissingFields(t *testing.T) {
	if _, err := Render(Definition{Exec: "/bin/true"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := Render(Definition{Name: "azaan"}); err == nil {
		t.Error("expected error for missing exec")
	}
}

func TestRender_EnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "azaan.env")
	content := "AZAAN_VOLUME=80\nAZAAN_DEVICE=hw:0\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := Render(Definition{
		Name:    "azaan",
		Exec:    "/bin/true",
		EnvFile: envPath,
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if !strings.Contains(text, "Environment=AZAAN_DEVICE=hw:0") {
		t.Errorf("missing env entry:\n%s", text)
	}
	if !strings.Contains(text, "Environment=AZAAN_VOLUME=80") {
		t.Errorf("missing env entry:\n%s", text)
	}

	// Stable ordering: DEVICE sorts before VOLUME.
	if strings.Index(text, "AZAAN_DEVICE") > strings.Index(text, "AZAAN_VOLUME") {
		t.Error("env entries not rendered in sorted order")
	}
}

func TestRender_EnvValueWithSpacesQuoted(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "azaan.env")
	content := "AZAAN_GREETING=\"as salamu alaykum\"\nAZAAN_VOLUME=80\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := Render(Definition{
		Name:    "azaan",
		Exec:    "/bin/true",
		EnvFile: envPath,
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Unquoted, systemd would split the value into separate assignments.
	if !strings.Contains(text, "Environment=\"AZAAN_GREETING=as salamu alaykum\"\n") {
		t.Errorf("whitespace value not quoted:\n%s", text)
	}
	if !strings.Contains(text, "Environment=AZAAN_VOLUME=80\n") {
		t.Errorf("plain value should stay unquoted:\n%s", text)
	}
}

func TestRender_MissingEnvFileTolerated(t *testing.T) {
	text, err := Render(Definition{
		Name:    "azaan",
		Exec:    "/bin/true",
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(text, "Environment=PYTHONUNBUFFERED=1") {
		t.Error("baseline environment missing")
	}
}
