// Package logger carries structured events out of the payment flow.
// Handlers stay silent through NoopLogger unless a ZapLogger is
// configured or injected.
package logger

// Logger receives the events the payment handler and network clients
// emit, one message plus loosely typed fields.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards every event.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
