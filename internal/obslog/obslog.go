// Package obslog wires structured, event-keyed logging for every component
// of the extractor. Every log line carries a stable "event" field so
// downstream alerting can match on it regardless of the human-readable
// message text.
package obslog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	level  = zerolog.InfoLevel
	writer io.Writer = os.Stderr
)

// SetLevel sets the process-wide minimum log level. Any name
// zerolog.ParseLevel accepts (e.g. "debug", "info", "warn", "error") sets
// it; anything ParseLevel rejects leaves the level unchanged.
func SetLevel(s string) {
	mu.Lock()
	defer mu.Unlock()
	if lvl, err := zerolog.ParseLevel(s); err == nil {
		level = lvl
	}
}

// For returns a logger tagged with component=name. Call once per component
// at construction time and reuse the returned logger.
func For(component string) zerolog.Logger {
	mu.Lock()
	l := level
	w := writer
	mu.Unlock()
	return zerolog.New(w).
		Level(l).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Event starts a log entry at info level carrying the stable event key that
// downstream alerting matches on. Callers chain .Str/.Int/.Err as needed and
// call .Msg(humanText).
func Event(logger zerolog.Logger, event string) *zerolog.Event {
	return logger.Info().Str("event", event)
}

// ErrorEvent is like Event but at error level, with err attached.
func ErrorEvent(logger zerolog.Logger, event string, err error) *zerolog.Event {
	return logger.Error().Str("event", event).Err(err)
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
