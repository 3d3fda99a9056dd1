// Package config loads tokenrelay's configuration.
//
// Configuration comes from three layers, later layers winning:
//
//  1. Built-in defaults (see Default)
//  2. A YAML file, by default ~/.config/tokenrelay/config.yaml
//  3. TOKENRELAY_* environment variables, optionally seeded from a .env file
//
// A missing file is not an error; the defaults apply. Validate reports every
// invalid field at once as a *ConfigurationError.
//
// # Example
//
//	logLevel: info
//	storage:
//	  backend: sqlite
//	  path: /var/lib/tokenrelay/tokens.db
//	proxy:
//	  listen: 127.0.0.1:8080
//	api:
//	  listen: 127.0.0.1:8081
//	resources:
//	  - resourceServer: https://api.example.com/
//	    tokenEndpoint: https://auth.example.com/oauth/token
//	    authorizationEndpoint: https://auth.example.com/oauth/authorize
//	    clientId: tokenrelay
//	    scopes: [read, write]
//
// Watcher re-reads the file when it changes so resources can be registered
// without restarting the proxy.
package config
