package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger 按配置构建日志器, logfile 为空时只输出到标准错误
func InitLogger(level, logfile string) (*zap.Logger, error) {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lv)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if logfile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logfile)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logfile)
	}
	return cfg.Build()
}
