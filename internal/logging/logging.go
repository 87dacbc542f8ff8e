package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and an optional rotating log file.
type Config struct {
	Level  string     `yaml:"level" json:"level"`
	Format string     `yaml:"format" json:"format"` // console or json
	File   FileConfig `yaml:"file" json:"file"`
}

// FileConfig enables lumberjack file output when Filename is set.
type FileConfig struct {
	Filename   string `yaml:"filename" json:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMb"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// ParseLevel maps a config string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
}

// New builds the process logger. Output goes to stdout, and also to the
// rotating file when one is configured.
func New(cfg Config) (*zap.Logger, error) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg Config, out io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339Nano)) },
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	ws := zapcore.AddSync(out)
	if cfg.File.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		ws = zapcore.NewMultiWriteSyncer(ws, zapcore.AddSync(lj))
	}

	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, zap.AddCaller()), nil
}
