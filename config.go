package weft

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/weftline/weft-go/internal/paths"
)

// Built-in defaults, applied wherever the environment and config file
// are silent.
const (
	defaultAPIURL        = "https://api.weftline.dev"
	defaultAppURL        = "https://www.weftline.dev"
	defaultProject       = "default-go"
	defaultQueueSize     = 5000
	defaultBatchSize     = 100
	defaultBatchBytes    = 6 << 20
	defaultFlushInterval = 5 * time.Second
	defaultFlushRetries  = 3
	defaultPromptMemory  = 64
	defaultPromptDisk    = 256
)

// Config holds the SDK's settings. Resolution order is environment
// variables (WEFT_* prefixed), then the optional YAML config file for
// identity fields, then built-in defaults.
type Config struct {
	// APIKey authenticates every request. Login fails without one.
	APIKey string `envconfig:"API_KEY"`

	// APIURL is the API endpoint root.
	APIURL string `envconfig:"API_URL"`

	// AppURL is the web application root, used to build permalinks.
	AppURL string `envconfig:"APP_URL"`

	// OrgName selects an organization when the API key belongs to more
	// than one.
	OrgName string `envconfig:"ORG_NAME"`

	// Project is the default project spans log to when no destination
	// is given.
	Project string `envconfig:"PROJECT"`

	// Debug turns on diagnostic logging to stderr.
	Debug bool `envconfig:"DEBUG"`

	// SyncFlush flushes after every span end. For short-lived scripts
	// and debugging; it sacrifices the non-blocking guarantee.
	SyncFlush bool `envconfig:"SYNC_FLUSH"`

	// QueueSize bounds the in-memory record queue. When full, the
	// oldest items are dropped.
	QueueSize int `envconfig:"QUEUE_SIZE"`

	// BatchSize caps records per API request.
	BatchSize int `envconfig:"BATCH_SIZE"`

	// BatchBytes caps the serialized payload per API request.
	BatchBytes int `envconfig:"BATCH_BYTES"`

	// FlushInterval is how often the background flusher wakes on its
	// own.
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL"`

	// FlushRetries is how many times a failed batch is retried, on top
	// of transport-level retries, before Flush reports the error.
	FlushRetries int `envconfig:"FLUSH_RETRIES"`

	// CacheDir overrides the prompt cache location.
	CacheDir string `envconfig:"CACHE_DIR"`

	// PromptCacheMemory and PromptCacheDisk bound the two prompt cache
	// layers, in entries.
	PromptCacheMemory int `envconfig:"PROMPT_CACHE_MEMORY"`
	PromptCacheDisk   int `envconfig:"PROMPT_CACHE_DISK"`
}

// fileConfig is the subset of settings the YAML config file may carry:
// identity and endpoints, the things a user sets once per machine.
type fileConfig struct {
	APIKey  string `yaml:"api_key"`
	APIURL  string `yaml:"api_url"`
	AppURL  string `yaml:"app_url"`
	OrgName string `yaml:"org_name"`
	Project string `yaml:"project"`
}

// LoadConfig resolves configuration from the environment and the
// optional config file at paths.ConfigFile.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("weft", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := applyConfigFile(&cfg, paths.ConfigFile()); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// DefaultConfig returns the built-in defaults without consulting the
// environment or config file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.normalize()
	return &cfg
}

// applyConfigFile overlays file values onto cfg for every identity
// field the environment did not set explicitly. A missing file is fine;
// an unreadable one is a real configuration error.
func applyConfigFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	overlay := []struct {
		env   string
		value string
		dst   *string
	}{
		{"WEFT_API_KEY", fc.APIKey, &cfg.APIKey},
		{"WEFT_API_URL", fc.APIURL, &cfg.APIURL},
		{"WEFT_APP_URL", fc.AppURL, &cfg.AppURL},
		{"WEFT_ORG_NAME", fc.OrgName, &cfg.OrgName},
		{"WEFT_PROJECT", fc.Project, &cfg.Project},
	}
	for _, o := range overlay {
		if _, set := os.LookupEnv(o.env); !set && o.value != "" {
			*o.dst = o.value
		}
	}
	return nil
}

// normalize fills unset fields with defaults and clamps nonsense.
func (c *Config) normalize() {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.AppURL == "" {
		c.AppURL = defaultAppURL
	}
	if c.Project == "" {
		c.Project = defaultProject
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = defaultBatchBytes
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = defaultFlushRetries
	}
	if c.CacheDir == "" {
		c.CacheDir = paths.PromptCacheDir()
	}
	if c.PromptCacheMemory <= 0 {
		c.PromptCacheMemory = defaultPromptMemory
	}
	if c.PromptCacheDisk <= 0 {
		c.PromptCacheDisk = defaultPromptDisk
	}
}
