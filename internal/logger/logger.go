// Package logger builds the zerolog logger shared by the commands.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Options controls where log lines go
type Options struct {
	// Level is a zerolog level name: debug, info, warn, error
	Level string

	// File, when set, receives JSON lines through a rotating writer
	File string

	// MaxSize is the rotation threshold in megabytes
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int

	// Console is the human readable destination, stderr when nil
	Console io.Writer
}

// New creates a logger tagged with a fresh run id
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}

	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSize, // megabytes
			MaxAge:   opts.MaxAge,  // days
		}
		out = zerolog.MultiLevelWriter(out, rotating)
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("run", uuid.NewString()).
		Logger(), nil
}
