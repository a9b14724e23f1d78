package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Console formats accepted by Options.Format.
const (
	FormatText  = "text"
	FormatColor = "color"
	FormatJSON  = "json"
)

// Rotation settings of the log file.
const (
	fileMaxSizeMB  = 10
	fileMaxBackups = 5
	fileMaxAgeDays = 30
)

// ErrUnknownFormat is returned for an unsupported console format.
var ErrUnknownFormat = errors.New("unknown log format")

// Options configures New.
type Options struct {
	// Writer receives console output. Defaults to os.Stderr.
	Writer io.Writer

	// Verbose lowers the level to Debug. The default level is Info.
	Verbose bool

	// Format is FormatText, FormatColor or FormatJSON.
	Format string

	// File, when set, also writes JSON records to a rotating log file.
	File string
}

// New creates a logger whose every handler is wrapped in a SecureHandler.
// The returned closer flushes and closes the log file; it is a no-op when
// no file is configured.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var console slog.Handler
	switch opts.Format {
	case "", FormatText:
		console = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case FormatColor:
		console = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	case FormatJSON:
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}

	if opts.File == "" {
		return slog.New(NewSecureHandler(console)), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
		Compress:   true,
	}
	file := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})

	return slog.New(NewSecureHandler(newFanoutHandler(console, file))), rotator, nil
}

// NewSecureLogger creates a text logger at Warn level (Debug if verbose).
// It is used by short-lived commands that only report problems.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
