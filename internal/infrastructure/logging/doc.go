// Package logging provides structured logging for the MultiDevice bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the whole service.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, bridge, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in the bridge config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, cfg.Bridge.ID, "1.0.0")
//	logger.Info("device started", "device", "aircon")
//	logger.Error("send failed", "device", "aircon", "error", err)
//
// Components that accept an optional logger declare a small local
// Logger interface compatible with this type; passing nil silences
// them.
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys. Configuration
// types with credentials provide redacting String() methods; use those.
package logging
