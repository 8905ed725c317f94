package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger bundles the application logger with the dedicated deletion log.
type Logger struct {
	*zap.Logger
	Deletions *zap.Logger
}

type Config struct {
	Dir   string
	Level string
	// Console mirrors the application log to stdout.
	Console bool
}

func rotating(dir, name string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

func New(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	ec := encoderConfig()
	jsonEnc := zapcore.NewJSONEncoder(ec)
	textEnc := zapcore.NewConsoleEncoder(ec)

	cores := []zapcore.Core{
		zapcore.NewCore(jsonEnc, rotating(cfg.Dir, "app.log"), level),
		zapcore.NewCore(textEnc, rotating(cfg.Dir, "error.log"), zap.ErrorLevel),
	}
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(textEnc, zapcore.Lock(os.Stdout), level))
	}

	deletions := zap.New(zapcore.NewCore(jsonEnc, rotating(cfg.Dir, "deletions.log"), zap.InfoLevel))

	return &Logger{
		Logger:    zap.New(zapcore.NewTee(cores...), zap.AddCaller()),
		Deletions: deletions,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), Deletions: zap.NewNop()}
}

// Component returns a child logger named after the page or service it serves.
func (l *Logger) Component(name string) *zap.Logger {
	return l.Logger.Named(name)
}

func (l *Logger) Sync() {
	_ = l.Logger.Sync()
	_ = l.Deletions.Sync()
}
