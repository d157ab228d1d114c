package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msouza-dev/flowsync/internal/config"
)

func TestSetupLoggerLevel(t *testing.T) {
	ctx := context.Background()

	logger := SetupLogger(&config.Config{LogLevel: "DEBUG", LogFormat: "TEXT"})
	assert.True(t, logger.Enabled(ctx, -4))

	logger = SetupLogger(&config.Config{LogLevel: "ERROR", LogFormat: "JSON"})
	assert.False(t, logger.Enabled(ctx, 0))
	assert.True(t, logger.Enabled(ctx, 8))
}

func TestSetupLoggerFileFallback(t *testing.T) {
	// A directory named like the log file makes OpenFile fail; the logger
	// must fall back to stdout instead of panicking on a nil writer.
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "flowsync.log"), 0755))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	logger := SetupLogger(&config.Config{LogLevel: "INFO", LogFormat: "TEXT"})
	require.NotNil(t, logger)
	assert.NotPanics(t, func() {
		logger.Info("log file unavailable, stdout only")
	})
}
