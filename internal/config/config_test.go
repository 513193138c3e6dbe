package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"finsight/internal/config"
)

func TestLoadConfig(t *testing.T) {
	// Set env var directly to test envconfig logic
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 8081, cfg.ServerPort)
	assert.Equal(t, "finsight", cfg.RedisKeyPrefix)
	assert.Equal(t, int64(50), cfg.MaxUploadSizeMB)
	assert.Equal(t, 50, cfg.EventHistorySize)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	// Create a temp .env file
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_StreamSettings(t *testing.T) {
	os.Setenv("REDIS_ADDR", "localhost:7000")
	os.Setenv("EVENT_HISTORY_SIZE", "200")
	defer os.Unsetenv("REDIS_ADDR")
	defer os.Unsetenv("EVENT_HISTORY_SIZE")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "localhost:7000", cfg.RedisAddr)
	assert.Equal(t, 200, cfg.EventHistorySize)
}

func TestLoadConfig_UploadSettings(t *testing.T) {
	os.Setenv("FINSIGHT_UPLOAD_DIR", "/var/data/uploads")
	os.Setenv("MAX_UPLOAD_SIZE_MB", "100")
	defer os.Unsetenv("FINSIGHT_UPLOAD_DIR")
	defer os.Unsetenv("MAX_UPLOAD_SIZE_MB")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "/var/data/uploads", cfg.UploadDir)
	assert.Equal(t, int64(100), cfg.MaxUploadSizeMB)
}
