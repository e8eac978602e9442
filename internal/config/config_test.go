package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default.DaemonPort, cfg.DaemonPort)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, filepath.Join(home, ".assurance", "assurance.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(home, ".assurance", "deleted"), cfg.DeletedItemsDir)
	assert.ElementsMatch(t, []string{".DS_Store", "Thumbs.db", "desktop.ini"}, cfg.IgnoredFileNames)
	assert.Equal(t, 2*time.Second, cfg.RescanDelay)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ASSURANCE_DAEMON_PORT", "9200")

	dir := filepath.Join(home, ".assurance")
	require.NoError(t, os.MkdirAll(dir, 0755))
	yaml := "workers: 8\ndb_path: /var/lib/assurance.db\nignored_extensions: [tmp, bak]\nrescan_delay: 500ms\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 9200, cfg.DaemonPort)
	assert.Equal(t, "/var/lib/assurance.db", cfg.DBPath)
	assert.Equal(t, []string{"tmp", "bak"}, cfg.IgnoredExtensions)
	assert.Equal(t, 500*time.Millisecond, cfg.RescanDelay)
}

func TestValidate(t *testing.T) {
	cfg := Default
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default
	cfg.DaemonPort = 70000
	assert.Error(t, cfg.Validate())
}
