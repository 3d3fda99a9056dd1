package config

import "tokenrelay/internal/store"

const (
	// DefaultProxyListen is where the forward proxy listens.
	DefaultProxyListen = "127.0.0.1:8080"

	// DefaultAPIListen is where the admin API listens.
	DefaultAPIListen = "127.0.0.1:8081"

	// DefaultCallbackAddr binds the login callback to a random loopback port.
	DefaultCallbackAddr = "127.0.0.1:0"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Storage: StorageConfig{
			Backend: store.BackendFile,
		},
		Proxy: ProxyConfig{
			Listen: DefaultProxyListen,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  DefaultAPIListen,
		},
		Callback: CallbackConfig{
			Addr: DefaultCallbackAddr,
		},
	}
}
