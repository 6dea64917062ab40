package vann

import "github.com/rs/zerolog"

// nopLogger is the default logger every Index construction falls back to
// when no Log is supplied (§2 "Logging" — optional, defaults to a no-op
// logger, the same shape as the teacher's own Label-on-NewEnv threading).
var nopLogger = zerolog.Nop()

// Logger returns l if non-nil, otherwise the shared no-op logger. ivf.Index
// and graph.Index both carry an optional *zerolog.Logger field and call
// this to get a always-safe-to-use logger out of it.
func Logger(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	return &nopLogger
}
