// Package logging owns the process-wide zlog setup and the small logger
// handle that startup components take explicitly.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/semihalev/zlog/v2"
)

// Logger is the structured logger startup components are given.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

var setupOnce sync.Once

// Setup configures the default zlog logger. Only the first call has any
// effect; the error of an unknown level is reported on that call only.
func Setup(level string) (err error) {
	setupOnce.Do(func() {
		var lvl zlog.Level
		if lvl, err = ParseLevel(level); err != nil {
			return
		}

		logger := zlog.NewStructured()
		logger.SetWriter(zlog.StdoutTerminal())
		logger.SetLevel(lvl)
		zlog.SetDefault(logger)
	})

	return err
}

// ParseLevel maps a config level name onto a zlog level.
func ParseLevel(level string) (zlog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zlog.LevelDebug, nil
	case "", "info":
		return zlog.LevelInfo, nil
	case "warn", "warning":
		return zlog.LevelWarn, nil
	case "error", "crit":
		return zlog.LevelError, nil
	}

	return zlog.LevelInfo, fmt.Errorf("log verbosity level unknown: %q", level)
}

type zlogger struct{}

// Default returns a Logger writing through the default zlog logger.
func Default() Logger { return zlogger{} }

func (zlogger) Debug(msg string, kv ...any) { zlog.Debug(msg, kv...) }
func (zlogger) Info(msg string, kv ...any)  { zlog.Info(msg, kv...) }
func (zlogger) Warn(msg string, kv ...any)  { zlog.Warn(msg, kv...) }
func (zlogger) Error(msg string, kv ...any) { zlog.Error(msg, kv...) }
