// Package logger configures the application's structured logging on top of
// log/slog and carries request or task scoped loggers through a context.
package logger
