package logging

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger interface for logging to.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})

	SetLevel(level Level)
	GetLevel() Level
	Sublogger(subname string) Logger
	AsZap() *zap.SugaredLogger
	Sync() error
}

type impl struct {
	name  string
	level *atomic.Int32
	inUTC bool
	cores []zapcore.Core
	sugar *zap.SugaredLogger
}

func newImpl(name string, level Level, inUTC bool, cores ...zapcore.Core) *impl {
	lvl := &atomic.Int32{}
	lvl.Store(int32(level))
	return newImplWithLevel(name, lvl, inUTC, cores)
}

func newImplWithLevel(name string, level *atomic.Int32, inUTC bool, cores []zapcore.Core) *impl {
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if inUTC {
		opts = append(opts, zap.WithClock(utcClock{}))
	}
	sugar := zap.New(zapcore.NewTee(cores...), opts...).Sugar()
	if name != "" {
		sugar = sugar.Named(name)
	}
	return &impl{name: name, level: level, inUTC: inUTC, cores: cores, sugar: sugar}
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Store(int32(level))
}

func (imp *impl) GetLevel() Level {
	return Level(imp.level.Load())
}

// Sublogger shares outputs and level with its parent and extends the name with a dot.
func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	return newImplWithLevel(newName, imp.level, imp.inUTC, imp.cores)
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	return imp.sugar
}

func (imp *impl) Sync() error {
	var errs []error
	for _, core := range imp.cores {
		if err := core.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

func (imp *impl) shouldLog(logLevel Level) bool {
	return logLevel >= imp.GetLevel()
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.sugar.Debug(args...)
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.sugar.Debugf(template, args...)
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(DEBUG) {
		imp.sugar.Debugw(msg, keysAndValues...)
	}
}

// CDebugw logs at debug level when the logger allows it or ctx carries a debug tag.
func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	tag := DebugTag(ctx)
	if tag != "" {
		keysAndValues = append(keysAndValues, "debug_tag", tag)
	}
	if imp.shouldLog(DEBUG) || tag != "" {
		imp.sugar.Debugw(msg, keysAndValues...)
	}
}

func (imp *impl) Info(args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.sugar.Info(args...)
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.sugar.Infof(template, args...)
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(INFO) {
		imp.sugar.Infow(msg, keysAndValues...)
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.sugar.Warn(args...)
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.sugar.Warnf(template, args...)
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(WARN) {
		imp.sugar.Warnw(msg, keysAndValues...)
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.sugar.Error(args...)
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.sugar.Errorf(template, args...)
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(ERROR) {
		imp.sugar.Errorw(msg, keysAndValues...)
	}
}

// Fatal logs as an error then exits the process.
func (imp *impl) Fatal(args ...interface{}) {
	imp.sugar.Error(args...)
	//nolint:errcheck
	imp.Sync()
	os.Exit(1)
}
