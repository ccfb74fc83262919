// Package logger builds the process zap logger: debug and info go to
// stdout, warnings and errors to stderr.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	shared *zap.Logger
)

// GetZapLogger returns the process logger, building it on first use. The
// debug flag of the first call wins.
func GetZapLogger(debug bool) *zap.Logger {
	once.Do(func() {
		shared = zap.New(NewCore(debug, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr)))
	})
	return shared
}

// NewCore builds the tee core.
//
// Arguments:
// - debug: Enables debug entries and the development encoder config.
// - stdout: Receives debug and info entries.
// - stderr: Receives warn, error and fatal entries.
//
// Returns:
// - The core.
func NewCore(debug bool, stdout, stderr zapcore.WriteSyncer) zapcore.Core {
	// debug and info level enabler
	lowLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.InfoLevel || (debug && level == zapcore.DebugLevel)
	})

	// warn, error and fatal level enabler
	highLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stdout, lowLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stderr, highLevel),
	)
}
