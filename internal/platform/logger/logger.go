package logger

import (
	"log/slog"
	"os"
)

// New returns the service logger: JSON in production for log shipping, text
// in development for readability. The service name is attached to every
// record so both servers can share one log stream.
func New(serviceName string, production bool) *slog.Logger {
	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler).With("service", serviceName)
}
