// Package logging builds the process slog.Logger on a zap core.
package logging

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New returns a slog.Logger backed by zap and the flush func to defer. The
// production environment logs JSON at info; anything else logs coloured
// console output at debug.
func New(env string) (*slog.Logger, func() error) {
	var zl *zap.Logger
	if env == "production" {
		zl = zap.Must(zap.NewProduction())
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zl = zap.Must(cfg.Build())
	}
	return slog.New(zapslog.NewHandler(zl.Core(), zapslog.WithCaller(true))), zl.Sync
}
