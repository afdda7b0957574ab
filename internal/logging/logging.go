// Package logging configures the process wide slog logger and adapts it to
// the clustering build observer.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// Config selects the log level and an optional rotating log file.
type Config struct {
	Level      string // debug, info, warn, error
	Filename   string // rotating file written in addition to stderr
	MaxSize    int    // megabytes before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Setup builds a text logger from cfg, installs it as the slog default and
// returns it together with a closer for the log file.
func Setup(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	logger := New(w, level)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New returns a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel accepts the slog level names, case insensitive. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, errors.Wrapf(err, "invalid log level %q", s)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Observer logs build phases. The total phase is reported at info level,
// everything else at debug.
type Observer struct {
	Logger *slog.Logger
}

var _ cluster.Observer = Observer{}

func (o Observer) Start(phase string) {
	o.Logger.Debug("build phase started", "phase", phase)
}

func (o Observer) Stop(phase string, elapsed time.Duration, detail string) {
	level := slog.LevelDebug
	if phase == cluster.PhaseTotal {
		level = slog.LevelInfo
	}
	o.Logger.Log(context.Background(), level, "build phase finished",
		"phase", phase, "elapsed", elapsed, "detail", detail)
}
