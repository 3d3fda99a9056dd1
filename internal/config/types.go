package config

import (
	"tokenrelay/internal/store"
	"tokenrelay/pkg/oauth"
)

// Config is the top-level configuration structure for tokenrelay.
type Config struct {
	LogLevel  string `yaml:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat,omitempty"` // text or json

	Storage  StorageConfig  `yaml:"storage"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	API      APIConfig      `yaml:"api"`
	Callback CallbackConfig `yaml:"callback"`

	// Resources are registered with the credential store at startup and on reload.
	Resources []ResourceConfig `yaml:"resources,omitempty"`
}

// StorageConfig selects the credential store backend.
type StorageConfig struct {
	Backend string      `yaml:"backend,omitempty"` // memory, file, sqlite or redis
	Path    string      `yaml:"path,omitempty"`    // directory (file) or database file (sqlite)
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// ProxyConfig configures the forward proxy listener.
type ProxyConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// APIConfig configures the admin API listener.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// CallbackConfig configures the local listener used by login.
type CallbackConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// ResourceConfig is the YAML form of a resource registration.
type ResourceConfig struct {
	ResourceServer        string   `yaml:"resourceServer"`
	TokenEndpoint         string   `yaml:"tokenEndpoint"`
	AuthorizationEndpoint string   `yaml:"authorizationEndpoint,omitempty"`
	ClientID              string   `yaml:"clientId,omitempty"`
	RedirectURI           string   `yaml:"redirectUri,omitempty"`
	Scopes                []string `yaml:"scopes,omitempty"`
}

// OAuth converts r to the form the credential store keeps.
func (r ResourceConfig) OAuth() *oauth.ResourceConfig {
	return &oauth.ResourceConfig{
		ResourceServer:        r.ResourceServer,
		TokenEndpoint:         r.TokenEndpoint,
		AuthorizationEndpoint: r.AuthorizationEndpoint,
		ClientID:              r.ClientID,
		RedirectURI:           r.RedirectURI,
		Scopes:                append([]string(nil), r.Scopes...),
	}
}

// StoreOptions converts the storage section to store.Options.
func (s StorageConfig) StoreOptions() store.Options {
	return store.Options{
		Backend:       s.Backend,
		Path:          s.Path,
		RedisAddr:     s.Redis.Addr,
		RedisPassword: s.Redis.Password,
		RedisDB:       s.Redis.DB,
		RedisPrefix:   s.Redis.Prefix,
	}
}

// Resource returns the resource whose resourceServer equals rs.
func (c Config) Resource(rs string) (ResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.ResourceServer == rs {
			return r, true
		}
	}
	return ResourceConfig{}, false
}
