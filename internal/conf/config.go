// config.go: settings struct and functions to load and access the application configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process-wide settings.
type MainSettings struct {
	Name string // instance name used in logs and summaries
	Log  LogConfig
}

// LogConfig defines the file logging configuration.
type LogConfig struct {
	Enabled  bool   // true to enable file logging
	Path     string // directory for service log files
	Rotation string // rotation policy: daily, weekly or size
}

// Rotation policy values for LogConfig.Rotation.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// SourceSettings describes the university timetable source and how to fetch from it.
type SourceSettings struct {
	BaseURL     string // public timetable site root, used for group catalog discovery
	APIURL      string // authenticated timetable API endpoint
	LoginURL    string // login page used for credential authentication
	Username    string // account login, usually supplied via environment
	Password    string // account password, usually supplied via environment
	SessionID   string // pre-established session cookie value, tried before credentials
	YearID      int    // academic year id, 0 to auto-detect from the API
	Weeks       int    // semester length in weeks
	Concurrency int    // maximum concurrent week fetches
	RateLimit   int    // maximum requests per second against the source
	MaxRetries  int    // retry attempts for transient fetch failures
	TimeoutSec  int    // per-request timeout in seconds
	CatalogPath string // file path for the cached group catalog, empty to disable
}

// OutputSettings selects and configures the schedule store backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// UpdaterSettings configures the periodic re-scrape service.
type UpdaterSettings struct {
	Schedule          string // cron expression for periodic ingestion runs
	HealthIntervalMin int    // minutes between health checks in serve mode
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool

	Main    MainSettings
	Source  SourceSettings
	Output  OutputSettings
	Updater UpdaterSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Credentials come from the environment in service deployments,
	// e.g. CAMPUSCHED_SOURCE_USERNAME and CAMPUSCHED_SOURCE_SESSIONID.
	viper.SetEnvPrefix("campusched")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values for each configuration parameter, defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetDefaultConfigPaths returns the config file search paths in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "campusched"))
	}
	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, fmt.Errorf("no config paths available")
	}
	return paths, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
