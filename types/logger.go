package types

// Logger is the structured logger used by readers, transports and the admin.
//
// Fields are passed as alternating key-value pairs. zap.SugaredLogger
// satisfies it as is; internal/logging wraps log/slog.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// Fatal logs at error level and terminates the process.
	Fatal(msg string, keysAndValues ...any)
}
