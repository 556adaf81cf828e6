package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/stockroom/internal/logging"
	"github.com/mesh-intelligence/stockroom/internal/paths"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "STOCKROOM"
)

// Config keys.
const (
	cfgKeyBackend          = "backend"
	cfgKeyDataDir          = "data_dir"
	cfgKeyInterval         = "sync.interval"
	cfgKeyDebounce         = "sync.debounce"
	cfgKeyTimeout          = "sync.timeout"
	cfgKeyFailureThreshold = "sync.failure_threshold"
	cfgKeySlowFactor       = "sync.slow_factor"
	cfgKeyDocumentName     = "remote.document_name"
	cfgKeyMarker           = "remote.marker"
	cfgKeyTokenFile        = "auth.token_file"
	cfgKeyClientFile       = "auth.client_file"
	cfgKeyDemo             = "auth.demo"
	cfgKeyLogLevel         = "log.level"
	cfgKeyLogFormat        = "log.format"
	cfgKeyLogFile          = "log.file"
)

// configFile is the structure written to config.yaml by init.
type configFile struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir,omitempty"`
	Sync    struct {
		Interval         string `yaml:"interval"`
		Debounce         string `yaml:"debounce"`
		Timeout          string `yaml:"timeout"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SlowFactor       int    `yaml:"slow_factor"`
	} `yaml:"sync"`
	Remote types.RemoteConfig `yaml:"remote"`
	Auth   struct {
		TokenFile  string `yaml:"token_file"`
		ClientFile string `yaml:"client_file,omitempty"`
		Demo       bool   `yaml:"demo"`
	} `yaml:"auth"`
	Log logging.Config `yaml:"log"`
}

// settings is the resolved configuration for one invocation.
type settings struct {
	ConfigDir  string
	Store      types.Config
	Log        logging.Config
	TokenFile  string
	ClientFile string
	Demo       bool
}

func defaultConfigFile(dataDir string) configFile {
	var cf configFile
	cf.Backend = types.BackendSQLite
	cf.DataDir = dataDir
	cf.Sync.Interval = types.DefaultSyncInterval.String()
	cf.Sync.Debounce = types.DefaultSyncDebounce.String()
	cf.Sync.Timeout = types.DefaultSyncTimeout.String()
	cf.Sync.FailureThreshold = types.DefaultFailureThreshold
	cf.Sync.SlowFactor = types.DefaultSlowFactor
	cf.Remote = types.RemoteConfig{DocumentName: types.DefaultDocumentName, Marker: types.DefaultMarker}
	cf.Auth.TokenFile = paths.TokenFileName
	cf.Log.Level = "info"
	return cf
}

// loadSettings reads config.yaml from the resolved config directory. A
// missing file is not an error; defaults and STOCKROOM_* variables apply.
func loadSettings(f *rootFlags) (settings, error) {
	configDir, err := paths.ResolveConfigDir(f.configDir)
	if err != nil {
		return settings{}, system(fmt.Errorf("resolve config dir: %w", err))
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyInterval, types.DefaultSyncInterval)
	v.SetDefault(cfgKeyDebounce, types.DefaultSyncDebounce)
	v.SetDefault(cfgKeyTimeout, types.DefaultSyncTimeout)
	v.SetDefault(cfgKeyFailureThreshold, types.DefaultFailureThreshold)
	v.SetDefault(cfgKeySlowFactor, types.DefaultSlowFactor)
	v.SetDefault(cfgKeyDocumentName, types.DefaultDocumentName)
	v.SetDefault(cfgKeyMarker, types.DefaultMarker)
	v.SetDefault(cfgKeyTokenFile, paths.TokenFileName)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return settings{}, system(fmt.Errorf("read config: %w", err))
		}
	}

	dataDir, err := paths.ResolveDataDir(f.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return settings{}, system(fmt.Errorf("resolve data dir: %w", err))
	}

	s := settings{
		ConfigDir: configDir,
		Store: types.Config{
			Backend: v.GetString(cfgKeyBackend),
			DataDir: dataDir,
			Sync: types.SyncConfig{
				Interval:         v.GetDuration(cfgKeyInterval),
				Debounce:         v.GetDuration(cfgKeyDebounce),
				Timeout:          v.GetDuration(cfgKeyTimeout),
				FailureThreshold: v.GetInt(cfgKeyFailureThreshold),
				SlowFactor:       v.GetInt(cfgKeySlowFactor),
			},
			Remote: types.RemoteConfig{
				DocumentName: v.GetString(cfgKeyDocumentName),
				Marker:       v.GetString(cfgKeyMarker),
			},
		},
		Log: logging.Config{
			Level:  v.GetString(cfgKeyLogLevel),
			Format: v.GetString(cfgKeyLogFormat),
		},
		TokenFile:  paths.InDir(configDir, v.GetString(cfgKeyTokenFile), paths.TokenFileName),
		ClientFile: v.GetString(cfgKeyClientFile),
		Demo:       v.GetBool(cfgKeyDemo) || f.demo,
	}
	if s.ClientFile != "" {
		s.ClientFile = paths.InDir(configDir, s.ClientFile, paths.ClientFileName)
	}
	if file := v.GetString(cfgKeyLogFile); file != "" {
		s.Log.File = paths.InDir(dataDir, file, paths.LogFileName)
	}
	if f.logLevel != "" {
		s.Log.Level = f.logLevel
	}
	if err := s.Store.Validate(); err != nil {
		return settings{}, fmt.Errorf("config %s: %w", filepath.Join(configDir, paths.ConfigFileName), err)
	}
	return s, nil
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist. It reports whether a file was written.
func writeConfigIfMissing(path, dataDir string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	cf := defaultConfigFile(dataDir)
	data, err := yaml.Marshal(&cf)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# Stockroom configuration. STOCKROOM_<KEY> environment variables override\n# these values, e.g. STOCKROOM_SYNC_INTERVAL=2m.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
