package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide structured logger: JSON to stdout, with
// debug level enabled outside production.
func NewLogger(development bool) *slog.Logger {
	level := slog.LevelInfo
	if development {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
