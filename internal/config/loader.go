package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tokenrelay/pkg/logging"
)

const (
	userConfigDir  = ".config/tokenrelay"
	configFileName = "config.yaml"
)

// Environment variables overriding the file.
const (
	EnvStorageBackend = "TOKENRELAY_STORAGE_BACKEND"
	EnvStoragePath    = "TOKENRELAY_STORAGE_PATH"
	EnvRedisAddr      = "TOKENRELAY_REDIS_ADDR"
	EnvRedisPassword  = "TOKENRELAY_REDIS_PASSWORD"
	EnvRedisDB        = "TOKENRELAY_REDIS_DB"
	EnvProxyListen    = "TOKENRELAY_PROXY_LISTEN"
	EnvAPIListen      = "TOKENRELAY_API_LISTEN"
	EnvLogLevel       = "TOKENRELAY_LOG_LEVEL"
)

// DefaultConfigPath returns ~/.config/tokenrelay/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set are kept. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &ConfigurationError{FilePath: path, ErrorType: ErrorTypeParse, Message: err.Error()}
	}
	logging.Debug("ConfigLoader", "Loaded environment from %s", path)
	return nil
}

// Load reads the configuration file at path (DefaultConfigPath when empty)
// on top of the defaults, then applies environment overrides. It does not
// validate; call Validate on the result.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config file found at %s, using defaults", path)
	case err != nil:
		return Config{}, &ConfigurationError{FilePath: path, ErrorType: ErrorTypeIO, Message: err.Error()}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, &ConfigurationError{FilePath: path, ErrorType: ErrorTypeParse, Message: err.Error()}
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	}

	if err := applyEnv(&config, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return config, nil
}

// applyEnv overrides config fields from the environment.
func applyEnv(config *Config, lookup func(string) (string, bool)) error {
	overrides := []struct {
		name  string
		field *string
	}{
		{EnvStorageBackend, &config.Storage.Backend},
		{EnvStoragePath, &config.Storage.Path},
		{EnvRedisAddr, &config.Storage.Redis.Addr},
		{EnvRedisPassword, &config.Storage.Redis.Password},
		{EnvProxyListen, &config.Proxy.Listen},
		{EnvAPIListen, &config.API.Listen},
		{EnvLogLevel, &config.LogLevel},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.name); ok && v != "" {
			*o.field = v
		}
	}

	if v, ok := lookup(EnvRedisDB); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{ErrorType: ErrorTypeValidation, Message: fmt.Sprintf("%s must be an integer", EnvRedisDB)}
		}
		config.Storage.Redis.DB = db
	}
	return nil
}
