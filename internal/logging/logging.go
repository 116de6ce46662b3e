// Package logging provides the process-wide structured logger.
//
// The teacher (KittClouds-Go-Machine-n) runs inside a WASM sandbox and logs
// via fmt.Println to the JS console since neither files nor stderr framing
// are meaningful there. NodeSpace runs as a normal process, so it adopts the
// structured logger the rest of the retrieved corpus reaches for outside
// WASM (zerolog), rather than reintroducing bare fmt.Println calls.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the shared zerolog logger. Components take it by value (it is a
// thin struct wrapping an io.Writer reference) and call With() to attach
// per-component fields, mirroring zerolog's usual call pattern.
var Logger zerolog.Logger

func init() {
	Logger = New(os.Stderr, zerolog.InfoLevel)
}

// New builds a logger writing RFC3339-timestamped JSON lines to w at the
// given minimum level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field, the
// convention used throughout NodeSpace's long-lived workers (embedding
// processor, MCP server, event forwarders) so log lines can be filtered per
// subsystem.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// SetLevel adjusts the global logger's minimum level, e.g. from config.
func SetLevel(level zerolog.Level) {
	Logger = Logger.Level(level)
}
