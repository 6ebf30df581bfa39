package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileAppender rotates JSON-encoded log entries through a set of files.
type FileAppender struct {
	zapcore.Core
	rotator *lumberjack.Logger
}

// NewFileAppender returns a core writing to path, keeping a couple of compressed backups.
func NewFileAppender(path string) *FileAppender {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    64,
		MaxBackups: 2,
		Compress:   true,
	}
	encoderCfg := EncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return &FileAppender{
		Core:    zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), zapcore.DebugLevel),
		rotator: rotator,
	}
}

// Close flushes and closes the current file.
func (fa *FileAppender) Close() error {
	return fa.rotator.Close()
}

// NewLoggerWithFile returns a logger writing to stdout and to the rotating file at path. The
// returned appender must be closed when the logger is no longer used.
func NewLoggerWithFile(name string, level Level, path string) (Logger, *FileAppender) {
	appender := NewFileAppender(path)
	return newImpl(name, level, true, NewConsoleCore(os.Stdout), appender), appender
}
