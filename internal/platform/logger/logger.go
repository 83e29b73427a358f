// Package logger builds the zap logger shared by every component.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger when env is "production" and a console
// development logger otherwise. An unknown level falls back to info.
func New(env, level string) *zap.Logger {
	var cfg zap.Config
	if strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid LOG_LEVEL %q, defaulting to info\n", level)
		cfg.Level.SetLevel(zapcore.InfoLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v, falling back to production defaults\n", err)
		l, _ = zap.NewProduction()
	}
	return l
}
