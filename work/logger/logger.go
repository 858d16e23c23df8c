// Package logger is the leveled printf logger used across the service.
// Messages are tagged "{pkg/file - Func}" by the callers.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "INFO"
	}
	return levelNames[l]
}

// ParseLogLevel maps DEBUG, INFO, WARN/WARNING and ERROR in any case; anything
// else is INFO
func ParseLogLevel(level string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		return WARN
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i)
		}
	}
	return INFO
}

// Logger writes "[DELTATV] <date> <time> [LEVEL] message" lines.
// The level can be changed while other goroutines log.
type Logger struct {
	level atomic.Int32
	out   *log.Logger
}

// New creates a Logger writing to stdout at the given level
func New(level string) *Logger {
	l := &Logger{out: log.New(os.Stdout, "[DELTATV] ", log.LstdFlags)}
	l.SetLevel(level)
	return l
}

func (l *Logger) SetLevel(level string) { l.level.Store(int32(ParseLogLevel(level))) }

func (l *Logger) GetLevel() string { return LogLevel(l.level.Load()).String() }

// SetOutput swaps the destination writer; main tees it into the admin log view
func (l *Logger) SetOutput(w io.Writer) { l.out.SetOutput(w) }

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	if level < LogLevel(l.level.Load()) {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...interface{}) { l.logf(DEBUG, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.logf(INFO, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.logf(WARN, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.logf(ERROR, format, v...) }

// Fatal logs at ERROR whatever the level is, then exits with status 1
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.out.Printf("[%s] %s", ERROR, fmt.Sprintf(format, v...))
	os.Exit(1)
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default is the package-level logger, created at INFO on first use
func Default() *Logger {
	once.Do(func() { defaultLogger = New("INFO") })
	return defaultLogger
}

func SetLogLevel(level string) { Default().SetLevel(level) }
func GetLogLevel() string      { return Default().GetLevel() }
func SetOutput(w io.Writer)    { Default().SetOutput(w) }

func Debug(format string, v ...interface{}) { Default().Debug(format, v...) }
func Info(format string, v ...interface{})  { Default().Info(format, v...) }
func Warn(format string, v ...interface{})  { Default().Warn(format, v...) }
func Error(format string, v ...interface{}) { Default().Error(format, v...) }
func Fatal(format string, v ...interface{}) { Default().Fatal(format, v...) }
