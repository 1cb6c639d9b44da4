// Package logger provides structured logging for the clustered node.
//
// It wraps the standard library log/slog:
//
//   - logger.go: the Logger interface, Config, and the default/global logger
//   - context.go: context-aware logging with request/trace ID propagation
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering, adjustable at runtime via SetLevel
//   - Context propagation for request tracing
//
// @design DS-0402
package logger
