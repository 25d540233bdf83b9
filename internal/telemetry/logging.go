// Package telemetry bootstraps logging and tracing for the console.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"modelconsole/internal/common/fsutil"
)

// LogOptions selects the logger's level, output format and optional file.
type LogOptions struct {
	Level  string // debug|info|warn|error
	Format string // console|json
	File   string // rotated JSON log file; empty disables
	Out    io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger. When File is set, entries are also
// written as JSON to a rotating file; the returned Closer closes it.
func NewLogger(opts LogOptions) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		if opts.Level != "" {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q", opts.Level)
		}
		lvl = zerolog.InfoLevel
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var primary io.Writer = out
	if !strings.EqualFold(opts.Format, "json") {
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	w := primary
	if opts.File != "" {
		rot, err := rotatingFile(opts.File)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		closer = rot
		w = zerolog.MultiLevelWriter(primary, rot)
	}
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return logger, closer, nil
}

func rotatingFile(path string) (*lumberjack.Logger, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureParentDir(p); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   p,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}, nil
}
