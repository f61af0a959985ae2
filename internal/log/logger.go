package log

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger writing to out. Outside production it writes
// a coloured console format; in production it writes JSON lines.
func New(out io.Writer, environment, level string) zerolog.Logger {
	production := strings.EqualFold(environment, "production") || strings.EqualFold(environment, "PROD")

	var w io.Writer = out
	if !production {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		if !production {
			lvl = zerolog.DebugLevel
		}
	}

	return zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("env", environment).
		Logger()
}
