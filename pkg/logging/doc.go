// Package logging provides the subsystem-tagged structured logger used across
// tokenrelay.
//
// It is a thin layer over log/slog: every entry carries a "subsystem" attribute
// (Proxy, Refresh, Store, AuthFlow, API, Config, ...) so output can be filtered
// per component, and messages use printf-style formatting.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Proxy", "Listening on %s", addr)
//	logging.Debug("Refresh", "Refreshing token for %s", resourceServer)
//	logging.Error("Store", err, "Failed to persist token record")
//
// JSON output is selected with Init(level, w, FormatJSON).
//
// # Audit Logging
//
// Operations on credentials are additionally reported as audit lines:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "token_stored",
//	    Outcome: "success",
//	    Target:  "https://api.example.com",
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix. Token values
// are never logged, only resource servers and endpoints.
package logging
