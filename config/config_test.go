package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "SHUTDOWN_TIMEOUT", "MAX_UPLOAD_MB", "MAX_CONNECTIONS", "GOOGLE_API_KEY",
	"GEMINI_MODEL", "GEMINI_BASE_URL", "GEMINI_TIMEOUT", "PROMPTS_FILE", "UPLOAD_FOLDER",
	"ARCHIVE_FOLDER", "UPLOAD_RETENTION", "OCR_LANGUAGES", "OCR_PSM", "TESSDATA_PREFIX",
	"WORKERS", "TASK_TTL", "CACHE_SIZE", "LOG_LEVEL", "LOG_FILE",
}

// clearEnv empties every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFiles()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, ":5000", cfg.Addr())
	assert.Equal(t, "gemini-1.5-flash", cfg.GeminiModel)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, "archive", cfg.ArchiveDir)
	assert.Equal(t, "ita+eng", cfg.OCRLanguages)
	assert.Equal(t, 6, cfg.OCRPageSegMode)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, time.Hour, cfg.TaskTTL)
	assert.Equal(t, "app.log", cfg.LogFile)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("TASK_TTL", "15m")
	t.Setenv("WORKERS", "not-a-number")
	cfg, err := LoadFiles()
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.TaskTTL)
	assert.Equal(t, 2, cfg.Workers)
}

func TestDotenvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, even empty.
	os.Unsetenv("GEMINI_MODEL")
	os.Unsetenv("PORT")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_MODEL=gemini-2.0-flash\nPORT=7000\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("GEMINI_MODEL")
		os.Unsetenv("PORT")
	})

	cfg, err := LoadFiles(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.GeminiModel)
	assert.Equal(t, 7000, cfg.Port)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "70000")
	_, err := LoadFiles()
	assert.ErrorContains(t, err, "PORT")

	t.Setenv("PORT", "5000")
	t.Setenv("OCR_PSM", "42")
	_, err = LoadFiles()
	assert.ErrorContains(t, err, "OCR_PSM")
}
