package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steemit/redsky/pkg/config"
)

func TestInitLoggerWritesJSONToFile(t *testing.T) {
	oldLogger := Logger
	defer func() { Logger = oldLogger }()

	path := filepath.Join(t.TempDir(), "redsky.log")
	err := InitLogger(&config.LoggingConfig{
		Level:  "DEBUG",
		Format: "json",
		File:   path,
	})
	require.NoError(t, err)

	WithComponent("actor").Info("job finished", zap.String("command", "get_timeline"))
	_ = GetLogger().Sync()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected one log line")

	var logObj map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &logObj))

	assert.Equal(t, "job finished", logObj["msg"])
	assert.Equal(t, "actor", logObj["component"])
	assert.Equal(t, "get_timeline", logObj["command"])
	assert.Contains(t, logObj, "ts")
}

func TestInitLoggerFallsBackToInfo(t *testing.T) {
	oldLogger := Logger
	defer func() { Logger = oldLogger }()

	require.NoError(t, InitLogger(&config.LoggingConfig{Level: "LOUD", Format: "text"}))
	assert.True(t, GetLogger().Core().Enabled(zap.InfoLevel))
	assert.False(t, GetLogger().Core().Enabled(zap.DebugLevel))
}

func TestGetLoggerNeverNil(t *testing.T) {
	oldLogger := Logger
	defer func() { Logger = oldLogger }()

	Logger = nil
	assert.NotNil(t, GetLogger())
}
