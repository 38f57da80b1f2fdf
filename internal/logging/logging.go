// Package logging provides the leveled logger used by the pipeline and the CLI.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var ErrParseLevel = errors.New("string can't be parsed to level, use: `error`, `info`, `debug`")

type Level int

const (
	ERR Level = iota
	INF
	DBG
)

func (l Level) String() string { return [3]string{"Error", "Info", "Debug"}[l] }

// ParseLevel converts "error", "info" or "debug" (any case) into a Level
func ParseLevel(lvl string) (Level, error) {
	levels := map[string]Level{
		strings.ToLower(ERR.String()): ERR,
		strings.ToLower(INF.String()): INF,
		strings.ToLower(DBG.String()): DBG,
	}
	level, ok := levels[strings.ToLower(lvl)]
	if !ok {
		return INF, fmt.Errorf("%s %w", lvl, ErrParseLevel)
	}
	return level, nil
}

// Logger writes leveled, prefixed lines to a single writer
type Logger struct {
	fatal, err, inf, dbg *log.Logger
	lvl                  Level
	closer               io.Closer
}

type Option func(l *Logger)

// WithLevel sets the most verbose level that is written
func WithLevel(level Level) Option { return func(l *Logger) { l.lvl = level } }

// WithWriter sends all output to w instead of stderr
func WithWriter(w io.Writer) Option {
	return func(l *Logger) { l.setOutput(w) }
}

// FileOptions configures a size-rotated log file
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// WithFile sends all output to a rotating log file
func WithFile(opts FileOptions) Option {
	return func(l *Logger) {
		rotator := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		l.setOutput(rotator)
		l.closer = rotator
	}
}

// New creates a Logger writing to stderr at the Info level
func New(opts ...Option) *Logger {
	l := &Logger{lvl: INF}
	l.setOutput(os.Stderr)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discard returns a Logger that drops everything
func Discard() *Logger {
	return New(WithWriter(io.Discard), WithLevel(ERR))
}

func (l *Logger) setOutput(w io.Writer) {
	flags := log.Ldate | log.Ltime
	l.fatal = log.New(w, "FATAL: ", flags)
	l.err = log.New(w, "ERR: ", flags)
	l.inf = log.New(w, "INF: ", flags)
	l.dbg = log.New(w, "DBG: ", flags)
}

// Level returns the configured level
func (l *Logger) Level() Level { return l.lvl }

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.lvl < DBG {
		return
	}
	l.dbg.Printf(format, v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.lvl < INF {
		return
	}
	l.inf.Printf(format, v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.err.Printf(format, v...)
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.fatal.Printf(format, v...)
	l.Close()
	os.Exit(1)
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
