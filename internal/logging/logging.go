// Package logging provides the leveled line logger shared by the daemon and the
// command layer. Lines look like "<RFC3339> <LEVEL> <component>: <message>".
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

type Logger struct {
	out       *log.Logger
	level     Level
	component string
}

func New(w io.Writer, level Level) *Logger {
	return &Logger{out: log.New(w, "", 0), level: level, component: "moptop"}
}

// Discard returns a logger that drops everything. Used where no logger is wired.
func Discard() *Logger {
	return New(io.Discard, LevelError+1)
}

// With returns a logger sharing the same output and level under another component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{out: l.out, level: l.level, component: component}
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelError + 1
	}
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

func (l *Logger) Log(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}
