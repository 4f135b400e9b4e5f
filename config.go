package loreline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StorageDriver selects the durable queue backend.
type StorageDriver string

const (
	// DriverMemory keeps queue records in memory. Useful for tests; the
	// queue does not survive restarts.
	DriverMemory StorageDriver = "memory"
	// DriverFile stores queue records as files under DataDir.
	DriverFile StorageDriver = "file"
	// DriverSQLite stores queue records in a SQLite database.
	DriverSQLite StorageDriver = "sqlite"
	// DriverS3 stores queue records in an S3-compatible bucket.
	DriverS3 StorageDriver = "s3"
)

// Config defines database configuration.
type Config struct {
	// DataDir is the directory for local durable state. Required for the
	// file and sqlite drivers.
	DataDir string `yaml:"data_dir"`

	// Driver selects the queue storage backend. Default: sqlite.
	Driver StorageDriver `yaml:"driver"`

	// Backend is an optional pre-built storage backend. If set, Driver
	// and DataDir are ignored for queue storage.
	Backend StorageBackend `yaml:"-"`

	// S3 configures the s3 driver.
	S3 *S3BackendConfig `yaml:"s3,omitempty"`

	// Compression enables snappy compression of queue records.
	// Default: true.
	Compression *bool `yaml:"compression,omitempty"`

	// Encryption configures encryption at rest for queue records.
	// If nil or Enabled is false, records are stored unencrypted.
	Encryption *EncryptionConfig `yaml:"encryption,omitempty"`

	// Remote configures the remote persistence service. If Endpoint is
	// empty and no RemoteClient is injected, the store runs fully local
	// and the queue simply accumulates.
	Remote HTTPRemoteClientConfig `yaml:"remote"`

	// RemoteClient overrides the HTTP remote client, for embedding hosts
	// with their own transport.
	RemoteClient RemoteClient `yaml:"-"`

	// Network configures connectivity monitoring.
	Network NetworkMonitorConfig `yaml:"network"`

	// Sync configures queue draining.
	Sync SyncEngineConfig `yaml:"sync"`

	// Notifications configures event fan-out to the UI layer.
	Notifications NotificationConfig `yaml:"notifications"`

	// Metrics enables Prometheus instrumentation on the default
	// registry.
	Metrics bool `yaml:"metrics"`
}

// DefaultConfig returns a configuration with sensible defaults for a
// desktop host: sqlite queue storage, compression on, probing every 15s.
func DefaultConfig(dataDir string) Config {
	compression := true
	return Config{
		DataDir:       dataDir,
		Driver:        DriverSQLite,
		Compression:   &compression,
		Network:       DefaultNetworkMonitorConfig(),
		Sync:          DefaultSyncEngineConfig(),
		Notifications: DefaultNotificationConfig(),
	}
}

// LoadConfig reads a YAML configuration file and applies defaults for
// unset fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Driver {
	case "", DriverMemory, DriverFile, DriverSQLite, DriverS3:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
	if c.Backend == nil {
		switch c.Driver {
		case DriverFile, DriverSQLite:
			if c.DataDir == "" {
				return fmt.Errorf("data_dir required for %s driver", c.Driver)
			}
		case DriverS3:
			if c.S3 == nil || c.S3.Bucket == "" {
				return fmt.Errorf("s3 bucket required for s3 driver")
			}
		}
	}
	if c.Encryption != nil && c.Encryption.Enabled &&
		len(c.Encryption.Key) == 0 && c.Encryption.KeyPassword == "" {
		return fmt.Errorf("encryption enabled without key or password")
	}
	if c.Network.ProbeInterval < 0 || c.Sync.DrainInterval < 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

func (c *Config) compressionEnabled() bool {
	return c.Compression == nil || *c.Compression
}
