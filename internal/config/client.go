package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/lidarlink/internal/fsutil"
)

// Defaults shared with the connection and stream packages.
const (
	DefaultPort             = 8000
	DefaultTLSPort          = 8800
	DefaultProtocolVersion  = 1
	DefaultCompressionLevel = 1
)

// ClientConfig holds optional client settings. Unset fields fall back to the
// defaults returned by the Get* methods, so partial files are safe.
type ClientConfig struct {
	Host *string `json:"host,omitempty" toml:"host"`
	Port *int    `json:"port,omitempty" toml:"port"`

	// TLS client material. Both must be set to enable TLS.
	CertFile *string `json:"cert_file,omitempty" toml:"cert_file"`
	KeyFile  *string `json:"key_file,omitempty" toml:"key_file"`

	ProtocolVersion *uint32 `json:"protocol_version,omitempty" toml:"protocol_version"`

	TimeSyncTimeout      *string `json:"time_sync_timeout,omitempty" toml:"time_sync_timeout"`             // duration string like "60s"
	TimeSyncPollInterval *string `json:"time_sync_poll_interval,omitempty" toml:"time_sync_poll_interval"` // duration string like "1s"

	CompressionLevel *int    `json:"compression_level,omitempty" toml:"compression_level"`
	FlushInterval    *string `json:"flush_interval,omitempty" toml:"flush_interval"`
	FailOnLostFrames *bool   `json:"fail_on_lost_frames,omitempty" toml:"fail_on_lost_frames"`

	LogFile  *string `json:"log_file,omitempty" toml:"log_file"`
	LogLevel *string `json:"log_level,omitempty" toml:"log_level"`
}

const maxFileSize = 1 * 1024 * 1024 // 1MB

// LoadClientConfig reads a .json or .toml file from fsys.
func LoadClientConfig(fsys fsutil.FileSystem, path string) (*ClientConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ClientConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ClientConfig) Validate() error {
	if c.Port != nil && (*c.Port <= 0 || *c.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port)
	}
	if (c.CertFile == nil) != (c.KeyFile == nil) {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	if c.CompressionLevel != nil && (*c.CompressionLevel < 1 || *c.CompressionLevel > 9) {
		return fmt.Errorf("compression_level must be between 1 and 9, got %d", *c.CompressionLevel)
	}
	for name, v := range map[string]*string{
		"time_sync_timeout":       c.TimeSyncTimeout,
		"time_sync_poll_interval": c.TimeSyncPollInterval,
		"flush_interval":          c.FlushInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// TLSEnabled reports whether client certificate material is configured.
func (c *ClientConfig) TLSEnabled() bool {
	return c.CertFile != nil && c.KeyFile != nil
}

func (c *ClientConfig) GetHost() string {
	if c.Host == nil {
		return ""
	}
	return *c.Host
}

// GetPort returns the configured port, or the plain or TLS default.
func (c *ClientConfig) GetPort() int {
	if c.Port != nil {
		return *c.Port
	}
	if c.TLSEnabled() {
		return DefaultTLSPort
	}
	return DefaultPort
}

func (c *ClientConfig) GetProtocolVersion() uint32 {
	if c.ProtocolVersion == nil {
		return DefaultProtocolVersion
	}
	return *c.ProtocolVersion
}

func (c *ClientConfig) GetTimeSyncTimeout() time.Duration {
	return durationOr(c.TimeSyncTimeout, 60*time.Second)
}

func (c *ClientConfig) GetTimeSyncPollInterval() time.Duration {
	return durationOr(c.TimeSyncPollInterval, time.Second)
}

func (c *ClientConfig) GetCompressionLevel() int {
	if c.CompressionLevel == nil {
		return DefaultCompressionLevel
	}
	return *c.CompressionLevel
}

// GetFlushInterval is how often a recording is flushed to disk.
func (c *ClientConfig) GetFlushInterval() time.Duration {
	return durationOr(c.FlushInterval, time.Second)
}

func (c *ClientConfig) GetFailOnLostFrames() bool {
	return c.FailOnLostFrames != nil && *c.FailOnLostFrames
}

func (c *ClientConfig) GetLogLevel() string {
	if c.LogLevel == nil {
		return "info"
	}
	return *c.LogLevel
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
