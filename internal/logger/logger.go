// Package logger builds the zerolog.Logger handed to every component.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much is logged.
type Options struct {
	// Debug lowers the level from warn to debug
	Debug bool

	// File, when set, also receives every event as JSON, rotated by size
	File string

	// Console is where human readable output goes. Nil means os.Stderr.
	Console io.Writer
}

// New returns a logger for opts. Only warnings and errors are shown unless
// Debug is set.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var writer io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339,
	}
	if opts.File != "" {
		writer = zerolog.MultiLevelWriter(writer, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxBackups: 3,
		})
	}

	level := zerolog.WarnLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger().
		Level(level)
}
