// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	MaxConnections  int

	GoogleAPIKey  string
	GeminiModel   string
	GeminiURL     string
	GeminiTimeout time.Duration
	PromptsFile   string

	UploadDir       string
	ArchiveDir      string
	UploadRetention time.Duration

	OCRLanguages   string
	OCRPageSegMode int
	TessdataPrefix string

	Workers   int
	TaskTTL   time.Duration
	CacheSize int

	LogLevel string
	LogFile  string
}

const (
	defaultPort            = 5000
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxUploadMB     = 32
	defaultMaxConnections  = 64

	defaultGeminiModel   = "gemini-1.5-flash"
	defaultGeminiTimeout = 2 * time.Minute

	defaultUploadDir       = "uploads"
	defaultArchiveDir      = "archive"
	defaultUploadRetention = 24 * time.Hour

	defaultOCRLanguages = "ita+eng"
	defaultOCRPSM       = 6

	defaultWorkers   = 2
	defaultTaskTTL   = time.Hour
	defaultCacheSize = 128

	defaultLogLevel = "info"
	defaultLogFile  = "app.log"
)

// Load reads a .env file from the working directory when present, then the
// environment. Variables already set take precedence over the file.
func Load() (Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv files; missing files are skipped.
func LoadFiles(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		Port:            getInt("PORT", defaultPort),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		MaxUploadBytes:  int64(getInt("MAX_UPLOAD_MB", defaultMaxUploadMB)) << 20,
		MaxConnections:  getInt("MAX_CONNECTIONS", defaultMaxConnections),

		GoogleAPIKey:  os.Getenv("GOOGLE_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", defaultGeminiModel),
		GeminiURL:     os.Getenv("GEMINI_BASE_URL"),
		GeminiTimeout: getDuration("GEMINI_TIMEOUT", defaultGeminiTimeout),
		PromptsFile:   os.Getenv("PROMPTS_FILE"),

		UploadDir:       getEnv("UPLOAD_FOLDER", defaultUploadDir),
		ArchiveDir:      getEnv("ARCHIVE_FOLDER", defaultArchiveDir),
		UploadRetention: getDuration("UPLOAD_RETENTION", defaultUploadRetention),

		OCRLanguages:   getEnv("OCR_LANGUAGES", defaultOCRLanguages),
		OCRPageSegMode: getInt("OCR_PSM", defaultOCRPSM),
		TessdataPrefix: os.Getenv("TESSDATA_PREFIX"),

		Workers:   getInt("WORKERS", defaultWorkers),
		TaskTTL:   getDuration("TASK_TTL", defaultTaskTTL),
		CacheSize: getInt("CACHE_SIZE", defaultCacheSize),

		LogLevel: getEnv("LOG_LEVEL", defaultLogLevel),
		LogFile:  getEnv("LOG_FILE", defaultLogFile),
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_MB must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("WORKERS must be positive")
	}
	if c.OCRPageSegMode < 0 || c.OCRPageSegMode > 13 {
		return fmt.Errorf("OCR_PSM out of range: %d", c.OCRPageSegMode)
	}
	return nil
}

// Addr is the listen address for Port on all interfaces.
func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

func getEnv(key string, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
