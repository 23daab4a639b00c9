package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment
// variables. The remote service endpoints and the rendering identity default
// to the values the pipeline is contracted against.
type Config struct {
	AppEnv           string
	Port             string
	CoreBaseURL      string
	AssetBaseURL     string
	RenderBaseURL    string
	ProjectID        string
	UserID           string
	EffectID         string
	PollInterval     time.Duration
	PollBudget       int
	DownloadDir      string
	DownloadPrefix   string
	MaxUploadBytes   int64
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		CoreBaseURL:      getEnv("CORE_BASE_URL", "https://core.faceswapper.ai"),
		AssetBaseURL:     getEnv("ASSET_BASE_URL", "https://assets.dressr.ai"),
		RenderBaseURL:    getEnv("RENDER_BASE_URL", "https://api.chromastudio.ai"),
		ProjectID:        getEnv("PROJECT_ID", "dressr"),
		UserID:           getEnv("RENDER_USER_ID", "DObRu1vyStbUynoQmTcHBlhs55z2"),
		EffectID:         getEnv("EFFECT_ID", "pokemonTrainer"),
		PollInterval:     time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 2000)),
		PollBudget:       getEnvInt("POLL_BUDGET", 60),
		DownloadDir:      getEnv("DOWNLOAD_DIR", "downloads"),
		DownloadPrefix:   getEnv("DOWNLOAD_PREFIX", "clownify_"),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_BYTES", 15<<20)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS"),
	}

	if cfg.PollBudget <= 0 {
		return nil, fmt.Errorf("POLL_BUDGET must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("RENDER_USER_ID is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
