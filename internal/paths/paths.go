package paths

import (
	"os"
	"path/filepath"
)

// Vendor names the directory namespace shared by every process using
// the SDK.
const Vendor = "weftline"

// CacheDir returns the root of the cross-process object cache.
func CacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, Vendor)
	}
	return filepath.Join(os.TempDir(), Vendor+"-cache")
}

// PromptCacheDir returns the directory holding cached prompt objects.
func PromptCacheDir() string {
	return filepath.Join(CacheDir(), "prompts")
}

// SpanBufferDir returns the directory holding per-run span buffer files.
func SpanBufferDir() string {
	return filepath.Join(os.TempDir(), Vendor+"-spans")
}

// ConfigFile returns the location of the optional YAML config overlay,
// or "" when no user config directory exists on this platform.
func ConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ""
	}
	return filepath.Join(dir, Vendor, "config.yaml")
}
