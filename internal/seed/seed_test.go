package seed

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeeder() *Seeder {
	return NewSeeder(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestSeed_FirstInstall(t *testing.T) {
	tmp := t.TempDir()
	template := filepath.Join(tmp, "app", "config.yml")
	dest := filepath.Join(tmp, "etc", "config.yml")

	require.NoError(t, os.MkdirAll(filepath.Dir(template), 0o755))
	require.NoError(t, os.WriteFile(template, []byte("volume: 5\n"), 0o644))

	seeded, err := testSeeder().Seed(template, dest)
	require.NoError(t, err)
	assert.True(t, seeded)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "volume: 5\n", string(got))
}

func TestSeed_OperatorEditsWin(t *testing.T) {
	tmp := t.TempDir()
	template := filepath.Join(tmp, "app", "config.yml")
	dest := filepath.Join(tmp, "etc", "config.yml")

	require.NoError(t, os.MkdirAll(filepath.Dir(template), 0o755))
	require.NoError(t, os.WriteFile(template, []byte("volume: 5\n"), 0o644))

	seeded, err := testSeeder().Seed(template, dest)
	require.NoError(t, err)
	require.True(t, seeded)

	// Operator edits the seeded config; a redeploy must not touch it.
	require.NoError(t, os.WriteFile(dest, []byte("volume: 9\n"), 0o644))

	seeded, err = testSeeder().Seed(template, dest)
	require.NoError(t, err)
	assert.False(t, seeded)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "volume: 9\n", string(got))
}

func TestSeed_MissingTemplateIsTolerated(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "etc", "config.yml")

	seeded, err := testSeeder().Seed(filepath.Join(tmp, "app", "config.yml"), dest)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.NoFileExists(t, dest)
}

func TestSeed_CreatesParentDir(t *testing.T) {
	tmp := t.TempDir()
	template := filepath.Join(tmp, "config.yml")
	dest := filepath.Join(tmp, "deep", "nested", "config.yml")

	require.NoError(t, os.WriteFile(template, []byte("x: 1\n"), 0o644))

	seeded, err := testSeeder().Seed(template, dest)
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.FileExists(t, dest)
}
