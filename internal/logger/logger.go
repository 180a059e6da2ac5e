// Package logger builds the service's zap logger. Components (ws, http,
// recorder, ...) log through named children whose level can be tuned on its
// own under log.components.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultFileName = "chatkit-server.log"

// Config configures the zap logger.
type Config struct {
	Level  string     `mapstructure:"level" yaml:"level"`
	Stdout bool       `mapstructure:"stdout" yaml:"stdout"`
	File   FileConfig `mapstructure:"file" yaml:"file"`
	// Components overrides Level by component name, e.g. recorder: debug.
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// FileConfig configures the rotated log file.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	Name       string `mapstructure:"name" yaml:"name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// New builds a JSON logger writing to stdout and/or a lumberjack file.
func New(cfg Config) (*zap.Logger, error) {
	levels := newComponentLevels(cfg)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	sink, err := buildSink(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, levels.min())
	return zap.New(&componentCore{Core: core, levels: levels}, zap.AddCaller()), nil
}

// Named returns the logger of one component. A nil base yields a no-op
// logger so services can be built without logging in tests.
func Named(base *zap.Logger, component string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(component)
}

// componentLevels resolves the level of a dotted logger name. The most
// specific segment with an override wins, so "ws.recorder" honours a
// "recorder" entry before a "ws" one.
type componentLevels struct {
	fallback zapcore.Level
	byName   map[string]zapcore.Level
}

func newComponentLevels(cfg Config) componentLevels {
	levels := componentLevels{
		fallback: parseLevel(cfg.Level),
		byName:   make(map[string]zapcore.Level, len(cfg.Components)),
	}
	for name, raw := range cfg.Components {
		levels.byName[strings.ToLower(strings.TrimSpace(name))] = parseLevel(raw)
	}
	return levels
}

func (l componentLevels) levelFor(loggerName string) zapcore.Level {
	if loggerName == "" || len(l.byName) == 0 {
		return l.fallback
	}
	segments := strings.Split(strings.ToLower(loggerName), ".")
	for i := len(segments) - 1; i >= 0; i-- {
		if lvl, ok := l.byName[segments[i]]; ok {
			return lvl
		}
	}
	return l.fallback
}

func (l componentLevels) min() zapcore.Level {
	lowest := l.fallback
	for _, lvl := range l.byName {
		if lvl < lowest {
			lowest = lvl
		}
	}
	return lowest
}

// componentCore filters entries by the level of the logger that wrote them.
type componentCore struct {
	zapcore.Core
	levels componentLevels
}

func (c *componentCore) With(fields []zapcore.Field) zapcore.Core {
	return &componentCore{Core: c.Core.With(fields), levels: c.levels}
}

func (c *componentCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < c.levels.levelFor(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func buildSink(cfg Config) (zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.Stdout {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}
	if cfg.File.Enabled {
		fileWriter, err := newFileWriter(cfg.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(fileWriter))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

func newFileWriter(fileCfg FileConfig) (*lumberjack.Logger, error) {
	dir := strings.TrimSpace(fileCfg.Path)
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	name := strings.TrimSpace(fileCfg.Name)
	if name == "" {
		name = defaultFileName
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    positiveOr(fileCfg.MaxSizeMB, 100),
		MaxBackups: max(fileCfg.MaxBackups, 0),
		MaxAge:     max(fileCfg.MaxAgeDays, 0),
		Compress:   fileCfg.Compress,
		LocalTime:  true,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
