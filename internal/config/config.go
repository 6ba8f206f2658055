package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for cloudsync.
type Config struct {
	OwnerID  string          `toml:"owner_id"`
	BaseDir  string          `toml:"base_dir"`
	LogDir   string          `toml:"log_dir"`
	Database DatabaseConfig  `toml:"database"`
	Sync     SyncConfig      `toml:"sync"`
	Ingest   IngestConfig    `toml:"ingest"`
	Server   ServerConfig    `toml:"server"`
	Backends []BackendConfig `toml:"backends"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig tunes the orchestrator, detector and dispatcher.
type SyncConfig struct {
	RetryAttempts             int    `toml:"retry_attempts"`
	RetryDelaySeconds         int    `toml:"retry_delay_seconds"`
	BackendTimeoutSeconds     int    `toml:"backend_timeout_seconds"`
	TimestampToleranceSeconds int    `toml:"timestamp_tolerance_seconds"`
	Workers                   int    `toml:"workers"`
	QueueSize                 int    `toml:"queue_size"`
	PollIntervalSeconds       int    `toml:"poll_interval_seconds"`
	LockDir                   string `toml:"lock_dir,omitempty"` // enables cross-process file locks
}

// IngestConfig bounds what may be ingested.
type IngestConfig struct {
	MaxUploadSizeMB   int64    `toml:"max_upload_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	SpoolDir          string   `toml:"spool_dir,omitempty"` // defaults to the OS temp dir
}

// ServerConfig configures the operational HTTP endpoint of `cloudsync serve`.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// BackendConfig represents configuration for a storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BackendConfig struct {
	Type string `toml:"type"` // "local", "memory", "s3", "azure_blob" or "google_drive"

	// Local-specific fields (only used when Type == "local")
	LocalRoot string `toml:"local_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3Endpoint     string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyEnv string `toml:"s3_access_key_env,omitempty"` // static keys; default AWS chain when empty
	S3SecretKeyEnv string `toml:"s3_secret_key_env,omitempty"`

	// Azure-specific fields (only used when Type == "azure_blob")
	AzureContainer           string `toml:"azure_container,omitempty"`
	AzureConnectionStringEnv string `toml:"azure_connection_string_env,omitempty"`

	// Drive-specific fields (only used when Type == "google_drive")
	DriveFolderID        string `toml:"drive_folder_id,omitempty"`
	DriveCredentialsPath string `toml:"drive_credentials_path,omitempty"` // OAuth client JSON
	DriveTokenPath       string `toml:"drive_token_path,omitempty"`       // age-encrypted token
	DrivePassphraseEnv   string `toml:"drive_passphrase_env,omitempty"`
}

// Default tuning values.
const (
	DefaultRetryAttempts         = 3
	DefaultRetryDelaySeconds     = 5
	DefaultBackendTimeoutSeconds = 60
	DefaultWorkers               = 4
	DefaultQueueSize             = 64
	DefaultPollIntervalSeconds   = 10
	DefaultMaxUploadSizeMB       = 100
	DefaultListen                = "127.0.0.1:9464"
)

// DefaultAllowedExtensions is the ingest allow-list written by NewConfig.
var DefaultAllowedExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".txt", ".csv", ".md", ".jpg", ".jpeg", ".png", ".gif", ".zip",
}

// NewConfig creates a new Config with the provided values, a sqlite
// database, and a local backend under baseDir.
func NewConfig(ownerID, baseDir string) *Config {
	return &Config{
		OwnerID: ownerID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Sync: SyncConfig{
			RetryAttempts:         DefaultRetryAttempts,
			RetryDelaySeconds:     DefaultRetryDelaySeconds,
			BackendTimeoutSeconds: DefaultBackendTimeoutSeconds,
			Workers:               DefaultWorkers,
			QueueSize:             DefaultQueueSize,
			PollIntervalSeconds:   DefaultPollIntervalSeconds,
			LockDir:               filepath.Join(baseDir, "locks"),
		},
		Ingest: IngestConfig{
			MaxUploadSizeMB:   DefaultMaxUploadSizeMB,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		},
		Server: ServerConfig{Listen: DefaultListen},
		Backends: []BackendConfig{
			{Type: "local", LocalRoot: filepath.Join(baseDir, "store")},
		},
	}
}

// Validate checks the backend list: known types, at most one backend per
// type, and exactly one local backend.
func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		switch b.Type {
		case "local", "memory", "s3", "azure_blob", "google_drive":
		default:
			return fmt.Errorf("backends[%d]: unknown backend type: %q", i, b.Type)
		}
		if seen[b.Type] {
			return fmt.Errorf("backends[%d]: duplicate backend type %q", i, b.Type)
		}
		seen[b.Type] = true
	}
	if !seen["local"] {
		return fmt.Errorf("exactly one local backend is required")
	}
	if c.Sync.RetryAttempts < 0 || c.Sync.Workers < 0 || c.Sync.QueueSize < 0 {
		return fmt.Errorf("sync settings must not be negative")
	}
	return nil
}

// RetryDelay returns the delay between upload attempts.
func (s SyncConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// BackendTimeout returns the per-attempt backend timeout.
func (s SyncConfig) BackendTimeout() time.Duration {
	return time.Duration(s.BackendTimeoutSeconds) * time.Second
}

// TimestampTolerance returns the detector's timestamp tolerance.
func (s SyncConfig) TimestampTolerance() time.Duration {
	return time.Duration(s.TimestampToleranceSeconds) * time.Second
}

// PollInterval returns how often the poller looks for pending jobs.
func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// MaxSizeBytes returns the ingest size limit in bytes.
func (i IngestConfig) MaxSizeBytes() int64 {
	return i.MaxUploadSizeMB * 1024 * 1024
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: backend sections may name credential files.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
