package types

import (
	"errors"
	"time"
)

// Config holds backend selection and sync parameters for opening a store.
type Config struct {
	Backend string       `json:"backend" yaml:"backend"`
	DataDir string       `json:"data_dir" yaml:"data_dir"`
	Sync    SyncConfig   `json:"sync" yaml:"sync"`
	Remote  RemoteConfig `json:"remote" yaml:"remote"`
}

// SyncConfig controls the cadence and failure handling of the sync coordinator.
type SyncConfig struct {
	Interval         time.Duration `json:"interval" yaml:"interval"`
	Debounce         time.Duration `json:"debounce" yaml:"debounce"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SlowFactor       int           `json:"slow_factor" yaml:"slow_factor"`
}

// RemoteConfig names the spreadsheet the adapter creates and the marker it
// searches for during discovery.
type RemoteConfig struct {
	DocumentName string `json:"document_name" yaml:"document_name"`
	Marker       string `json:"marker" yaml:"marker"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Defaults applied by DefaultConfig and the CLI configuration layer.
const (
	DefaultSyncInterval     = 60 * time.Second
	DefaultSyncDebounce     = 10 * time.Second
	DefaultSyncTimeout      = 30 * time.Second
	DefaultFailureThreshold = 3
	DefaultSlowFactor       = 5
	DefaultDocumentName     = "Stockroom Inventory"
	DefaultMarker           = "Stockroom"
)

// Config validation errors.
var (
	ErrBackendEmpty            = errors.New("backend must not be empty")
	ErrBackendUnknown          = errors.New("unknown backend")
	ErrSyncIntervalInvalid     = errors.New("sync interval must be positive")
	ErrSyncDebounceInvalid     = errors.New("sync debounce must not be negative")
	ErrSyncTimeoutInvalid      = errors.New("sync timeout must be positive")
	ErrFailureThresholdInvalid = errors.New("failure threshold must be positive")
	ErrSlowFactorInvalid       = errors.New("slow factor must be at least 1")
	ErrMarkerEmpty             = errors.New("remote marker must not be empty")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
	BackendFile:   true,
	BackendMemory: true,
}

// DefaultSyncConfig returns the sync parameters used when none are configured.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:         DefaultSyncInterval,
		Debounce:         DefaultSyncDebounce,
		Timeout:          DefaultSyncTimeout,
		FailureThreshold: DefaultFailureThreshold,
		SlowFactor:       DefaultSlowFactor,
	}
}

// DefaultConfig returns a sqlite-backed configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Backend: BackendSQLite,
		DataDir: dataDir,
		Sync:    DefaultSyncConfig(),
		Remote: RemoteConfig{
			DocumentName: DefaultDocumentName,
			Marker:       DefaultMarker,
		},
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if c.Remote.Marker == "" {
		return ErrMarkerEmpty
	}
	return nil
}

// Validate checks the sync parameters.
func (s SyncConfig) Validate() error {
	switch {
	case s.Interval <= 0:
		return ErrSyncIntervalInvalid
	case s.Debounce < 0:
		return ErrSyncDebounceInvalid
	case s.Timeout <= 0:
		return ErrSyncTimeoutInvalid
	case s.FailureThreshold <= 0:
		return ErrFailureThresholdInvalid
	case s.SlowFactor < 1:
		return ErrSlowFactorInvalid
	}
	return nil
}

// SlowInterval is the periodic cadence used once consecutive failures reach
// FailureThreshold.
func (s SyncConfig) SlowInterval() time.Duration {
	return s.Interval * time.Duration(s.SlowFactor)
}
