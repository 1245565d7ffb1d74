// Package logger provides structured logging for Beacon.
//
// This package builds on the standard library log/slog:
//
//   - logger.go: slog logger configuration and initialization
//   - zap.go: placeholder without code; the implementation is in logger.go
//   - context.go: Context-aware logging with request/trace IDs
//   - redact.go: Sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering
//   - Automatic sensitive data masking
//   - Context propagation for request tracing
//
// @req RQ-0403
// @design DS-0402
package logger
