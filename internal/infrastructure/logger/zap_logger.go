package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	// Parse level
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)

	return config.Build()
}

// NewFileLogger writes JSON logs to a rotating file and mirrors them to stdout.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(l)

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 7,
		Compress:   true,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, rotating, atom),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atom),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// New picks the file logger when path is set.
func New(level, path string) (*zap.Logger, error) {
	if path != "" {
		return NewFileLogger(path, level)
	}
	return NewLogger(level)
}
