package weft

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig points the config file and cache lookups at an empty
// home so the host machine's settings never leak into assertions.
func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	return home
}

func writeConfigFile(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".config", "weftline")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
}

func TestDefaultConfig(t *testing.T) {
	isolateConfig(t)
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.weftline.dev", cfg.APIURL)
	assert.Equal(t, "https://www.weftline.dev", cfg.AppURL)
	assert.Equal(t, "default-go", cfg.Project)
	assert.Equal(t, 5000, cfg.QueueSize)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 6<<20, cfg.BatchBytes)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 3, cfg.FlushRetries)
	assert.Equal(t, 64, cfg.PromptCacheMemory)
	assert.Equal(t, 256, cfg.PromptCacheDisk)
	assert.NotEmpty(t, cfg.CacheDir)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadConfigFromEnv(t *testing.T) {
	isolateConfig(t)
	t.Setenv("WEFT_API_KEY", "sk-env")
	t.Setenv("WEFT_PROJECT", "env-project")
	t.Setenv("WEFT_ORG_NAME", "env-org")
	t.Setenv("WEFT_QUEUE_SIZE", "42")
	t.Setenv("WEFT_FLUSH_INTERVAL", "250ms")
	t.Setenv("WEFT_SYNC_FLUSH", "true")
	t.Setenv("WEFT_DEBUG", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, "env-project", cfg.Project)
	assert.Equal(t, "env-org", cfg.OrgName)
	assert.Equal(t, 42, cfg.QueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.True(t, cfg.SyncFlush)
	assert.True(t, cfg.Debug)

	// Untouched settings keep their defaults.
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, "https://api.weftline.dev", cfg.APIURL)
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	isolateConfig(t)
	t.Setenv("WEFT_QUEUE_SIZE", "not-a-number")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	home := isolateConfig(t)
	writeConfigFile(t, home, "api_key: sk-file\norg_name: file-org\nproject: file-project\n")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sk-file", cfg.APIKey)
	assert.Equal(t, "file-org", cfg.OrgName)
	assert.Equal(t, "file-project", cfg.Project)
}

func TestLoadConfigEnvBeatsFile(t *testing.T) {
	home := isolateConfig(t)
	writeConfigFile(t, home, "api_key: sk-file\nproject: file-project\n")
	t.Setenv("WEFT_PROJECT", "env-project")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "env-project", cfg.Project)
	assert.Equal(t, "sk-file", cfg.APIKey)
}

func TestLoadConfigCorruptFile(t *testing.T) {
	home := isolateConfig(t)
	writeConfigFile(t, home, "api_key: [unclosed\n")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	isolateConfig(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "default-go", cfg.Project)
}
