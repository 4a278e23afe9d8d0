// Package config loads the vocafs configuration file.
//
// The file is YAML. A missing or empty file is created with the values from
// Default so that the effective configuration is always visible on disk.
// PUID and PGID in the environment override the owner reported for the
// root directory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"vocafs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("config")
)

const (
	// DefaultUploadURL is the base of the Vocaroo chunked upload API.
	DefaultUploadURL = "https://upload2.vocaroo.com/apps/main-api/upload"
	// DefaultDownloadURL is the base that media identifiers are fetched from.
	DefaultDownloadURL = "https://media1.vocaroo.com/mp3"
	// DefaultChunkSize is the largest body sent in one chunk upload.
	DefaultChunkSize = 100000
)

// Config is the vocafs runtime configuration.
type Config struct {
	// UploadURL is the upload API base; /alive, /{token}/chunk/{n} and
	// /{token}/finalize are appended to it.
	UploadURL string `yaml:"upload_url"`

	// DownloadURL is the media base; /{mediaId} is appended to it.
	DownloadURL string `yaml:"download_url"`

	// ChunkSize bounds each chunk upload, in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// HTTPTimeout bounds each remote request. Zero means no timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// UserAgent is sent with every remote request when non-empty.
	UserAgent string `yaml:"user_agent"`

	// UID and GID own the root directory. Nil means the current process.
	UID *uint32 `yaml:"uid,omitempty"`
	GID *uint32 `yaml:"gid,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		UploadURL:   DefaultUploadURL,
		DownloadURL: DefaultDownloadURL,
		ChunkSize:   DefaultChunkSize,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout must not be negative, got %s", c.HTTPTimeout)
	}
	for field, raw := range map[string]string{"upload_url": c.UploadURL, "download_url": c.DownloadURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must be an http or https URL, got %q", field, raw)
		}
	}
	return nil
}

// Owner returns the uid and gid that own the root directory.
func (c *Config) Owner() (uint32, uint32) {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())
	if c.UID != nil {
		uid = *c.UID
	}
	if c.GID != nil {
		gid = *c.GID
	}
	return uid, gid
}

// ApplyEnv applies PUID and PGID overrides from the environment.
func (c *Config) ApplyEnv() {
	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			v := uint32(puid)
			c.UID = &v
			logger.Debug("Using PUID from environment: %d", v)
		} else {
			logger.Warn("Ignoring invalid PUID %q: %v", puidStr, err)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			v := uint32(pgid)
			c.GID = &v
			logger.Debug("Using PGID from environment: %d", v)
		} else {
			logger.Warn("Ignoring invalid PGID %q: %v", pgidStr, err)
		}
	}
}

// Load reads the configuration at path. An empty path yields the defaults
// without touching the filesystem. A missing or empty file is created
// with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		logger.Debug("No config file given, using defaults")
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	logger.Debug("Loading config from: %s", absPath)

	data, err := os.ReadFile(absPath)
	switch {
	case os.IsNotExist(err) || (err == nil && len(data) == 0):
		logger.Info("No config file at %s, writing defaults", absPath)
		if err := Save(absPath, cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}

	logger.Debug("Config loaded: upload=%s download=%s chunk=%d", cfg.UploadURL, cfg.DownloadURL, cfg.ChunkSize)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty config data")
	}

	logger.Trace("Writing %d bytes of config data", len(data))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
