package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Tray     TrayConfig
	Host     HostConfig
	Settings SettingsConfig
}

type ServerConfig struct {
	Port int
	// Token, when set, is required as a bearer token on every API request.
	Token string
}

type StorageConfig struct {
	DataDir string
	// HistoryKeep is how many history rows are retained per key; 0 keeps all.
	HistoryKeep int
}

type LogConfig struct {
	Level string
}

type TrayConfig struct {
	Items   []string
	Columns int
}

type HostConfig struct {
	ActivityURL string
	LEDsDir     string
}

type SettingsConfig struct {
	DefaultsFile string
	// SeedOverwrite replaces stored values with the defaults file on start.
	SeedOverwrite bool
	ReadOnly      []string
}

// DefaultsPath returns the YAML defaults file to seed the store from.
func (c Config) DefaultsPath() string {
	if c.Settings.DefaultsFile != "" {
		return c.Settings.DefaultsFile
	}
	return filepath.Join(c.Storage.DataDir, "defaults.yaml")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir:     defaultDataDir(),
			HistoryKeep: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tray: TrayConfig{
			// Same working set as tray.DefaultItems.
			Items: []string{"nfc", "volume", "flashlight", "hotspot", "brightness",
				"location", "powersave", "orientation", "developer"},
			Columns: 5,
		},
		Host: HostConfig{
			LEDsDir: "/sys/class/leds",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.quicksettings.app) and
// the API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/qsettings/config.json
// and the API token falls back to $XDG_DATA_HOME/qsettings/secrets.json.
//
// Environment variables (QSETTINGS_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), newSecretStore())
}

const (
	secretService = "qsettings"
	tokenAccount  = "api_token"
)

// secretStore is the platform secret store: the login keychain on macOS,
// a private JSON file elsewhere.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// SetToken stores the API bearer token in the platform secret store. The
// QSETTINGS_API_TOKEN environment variable still takes precedence.
func SetToken(token string) error {
	return setToken(newSecretStore(), token)
}

func setToken(ss secretStore, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	return ss.Set(secretService, tokenAccount, token)
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The API token is optional; without one the API runs unauthenticated.
	if cfg.Server.Token == "" {
		if tok, err := ss.Get(secretService, tokenAccount); err == nil && tok != "" {
			cfg.Server.Token = tok
		}
	}

	return cfg, nil
}
