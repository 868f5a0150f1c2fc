// Package logging provides structured logging for PlaySEM Core.
//
// It wraps log/slog so every component logs the same way: JSON output in
// production, text output for development, level filtering, and default
// service/version attributes on every record.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components such as the timeline scheduler and the dispatch pool accept a
// small Logger interface rather than this concrete type, so *Logger can be
// passed to their SetLogger methods directly.
package logging
