package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/v0xg/clickloop/internal/config"
)

// applyFlags overrides file settings with the flags the user actually set
func applyFlags(cmd *cobra.Command, f *config.File) error {
	changed := cmd.Flags().Changed
	s := &f.Settings

	if changed("url") {
		f.URL = url
	}
	if changed("width") {
		s.Width = width
	}
	if changed("height") {
		s.Height = height
	}
	if changed("capture-width") {
		s.Capture.Width = captureWidth
	}
	if changed("capture-height") {
		s.Capture.Height = captureHeight
	}
	if changed("provider") {
		s.Provider = provider
	}
	if changed("model") {
		s.Model = model
	}
	if changed("max-attempts") {
		s.MaxAttempts = maxAttempts
	}
	if changed("min-confidence") {
		s.MinConfidence = minConfidence
	}
	if changed("clamp") {
		s.Clamp = clamp
	}
	if changed("headful") {
		s.Headless = !headful
	}
	if changed("no-cursor") {
		s.MarkCursor = !noCursor
	}
	if changed("profile") {
		s.Profile = profile
	}
	if changed("record") {
		s.Record = record
	}
	if changed("metrics-addr") {
		s.MetricsAddr = metricsAddr
	}

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"retry-delay", retryDelay, &s.RetryDelay},
		{"verify-timeout", verifyTimeout, &s.VerifyTimeout},
		{"settle-delay", settleDelay, &s.SettleDelay},
	}
	for _, d := range durations {
		if !changed(d.flag) {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", d.flag, err)
		}
		*d.dst = v
	}

	if f.URL == "" {
		return fmt.Errorf("no URL: set `url` in the task file or pass --url")
	}
	return s.Validate()
}

func initLogger(verbose bool, format string) *zap.Logger {
	// Progress goes to stdout; logs only surface problems unless verbose
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		format = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
