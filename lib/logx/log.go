// Package logx configures the zerolog logger used across the services.
//
// Diagnostics of the provider are not meant for a local console: the host supplies a Sink and every log event is
// forwarded to it as one JSON line, with object fields already serialised to text.
package logx

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Sink receives one formatted log line per event.
type Sink interface {
	Log(line string) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(line string) error

// Log calls f(line).
func (f SinkFunc) Log(line string) error {
	return f(line)
}

// Configure sets the global log level.
func Configure(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

// New returns a logger writing to sink, or a console logger on stderr when sink is nil.
func New(sink Sink) zerolog.Logger {
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if sink != nil {
		w = sinkWriter{sink: sink}
	}

	return zerolog.New(w).With().Timestamp().Logger()
}

// sinkWriter forwards each zerolog write (one event) to the sink. Sink failures are swallowed: logging must never
// fail the operation being logged.
type sinkWriter struct {
	sink Sink
}

func (w sinkWriter) Write(p []byte) (int, error) {
	_ = w.sink.Log(string(bytes.TrimRight(p, "\n")))

	return len(p), nil
}

// parseLevel converts a string to a zerolog level.
// Accepts: all, trace, debug, info, warn, warning, error, fatal, none.
// Unknown values default to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
