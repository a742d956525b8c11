// Package logging builds the process logger: a console writer plus an
// optional rotating file.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"nmea-bridge/internal/config"
)

// New returns the root logger and a closer for the log file (a no-op when
// no file is configured).
func New(cfg config.LogConfig, console io.Writer) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	var out io.Writer = console
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		closer = file
		out = zerolog.MultiLevelWriter(out, file)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), closer, nil
}

// Component tags l with the subsystem it logs for.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
