// Package observability configures the process-wide structured logger and
// hands out component-scoped children of it.
package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init configures the global logger. level is parsed case-insensitively
// ("debug", "info", "warn", "error", ...); an unrecognized or empty level
// falls back to info. w defaults to os.Stdout when nil.
func Init(level string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl := zerolog.InfoLevel
	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	mu.Lock()
	base = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// For returns a child logger tagged with component=name. Safe to call
// before Init; components never need a nil check.
func For(component string) *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base.With().Str("component", component).Logger()
	return &l
}
