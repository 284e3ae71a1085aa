package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every externally tunable value. Components never read the
// environment themselves; everything is injected from here.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	OllamaHost  string
	VisionModel string

	AnalysisTimeout time.Duration
	MaxUploadBytes  int64

	CameraIndex    int
	CameraWidth    int
	CameraHeight   int
	CaptureQuality int

	SessionTTL time.Duration
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:     getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=medscan port=5432 sslmode=disable"),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:     os.Getenv("JWT_AUDIENCE"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://ollama:11434"),
		VisionModel:     getEnv("VISION_MODEL", "llava:13b"),
		AnalysisTimeout: getDuration("ANALYSIS_TIMEOUT", 120*time.Second),
		MaxUploadBytes:  int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),
		CameraIndex:     getInt("CAMERA_INDEX", 0),
		CameraWidth:     getInt("CAMERA_WIDTH", 1920),
		CameraHeight:    getInt("CAMERA_HEIGHT", 1080),
		CaptureQuality:  getInt("CAPTURE_QUALITY", 85),
		SessionTTL:      getDuration("SESSION_TTL", 30*time.Minute),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.CaptureQuality < 1 || c.CaptureQuality > 100 {
		return fmt.Errorf("CAPTURE_QUALITY must be between 1 and 100, got %d", c.CaptureQuality)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive, got %s", c.AnalysisTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
