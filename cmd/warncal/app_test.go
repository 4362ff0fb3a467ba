package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/warning-calendar-service/internal/config"
)

func TestNewLogger_BecomesDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})

	assert.Same(t, logger, slog.Default())
	assert.True(t, logger.Handler().Enabled(t.Context(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(t.Context(), slog.LevelInfo))
}
