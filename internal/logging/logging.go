// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels lists the log levels accepted in configuration.
var Levels = []string{"debug", "info", "warn", "error"}

// ParseLevel maps a config log level to a zap level. An empty level is info.
func ParseLevel(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name != "" && !slices.Contains(Levels, name) {
		return zapcore.InfoLevel, fmt.Errorf("log level %q is not one of %s", level, strings.Join(Levels, ", "))
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

// New returns a production JSON logger at level. Development mode switches
// to the console encoder.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Logr adapts logger for packages that log through logr.
func Logr(logger *zap.Logger) logr.Logger {
	return zapr.NewLogger(logger)
}
