package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the vegchange server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Raster   RasterConfig
	Jobs     JobsConfig
	Analysis AnalysisConfig
	Export   ExportConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL             string
	RateLimitPerMin int
}

type RasterConfig struct {
	Engine       string
	URL          string
	Token        string
	Timeout      time.Duration
	MemoryPixels int
}

type JobsConfig struct {
	MaxRetained   int
	Workers       int
	QueueSize     int
	SweepSchedule string
	Retention     time.Duration
}

type AnalysisConfig struct {
	ScaleMeters    float64
	CloudThreshold float64
}

type ExportConfig struct {
	StatusTTL time.Duration
}

var validEngines = map[string]bool{
	"http":   true,
	"memory": true,
}

// LoadDotEnv loads variables from the given files, earlier files winning.
// Variables already in the environment are never overwritten; missing files
// are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VEGCHANGE_PORT", 8080),
			Env:  envString("VEGCHANGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:             os.Getenv("REDIS_URL"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Raster: RasterConfig{
			Engine:       os.Getenv("RASTER_ENGINE"),
			URL:          os.Getenv("RASTER_ENGINE_URL"),
			Token:        os.Getenv("RASTER_ENGINE_TOKEN"),
			Timeout:      envDuration("RASTER_ENGINE_TIMEOUT", 2*time.Minute),
			MemoryPixels: envInt("RASTER_MEMORY_PIXELS", 256),
		},
		Jobs: JobsConfig{
			MaxRetained:   envInt("JOBS_MAX_RETAINED", 100),
			Workers:       envInt("JOBS_WORKERS", 4),
			QueueSize:     envInt("JOBS_QUEUE_SIZE", 64),
			SweepSchedule: envString("JOBS_SWEEP_SCHEDULE", "*/5 * * * *"),
			Retention:     envDuration("JOBS_RETENTION", 24*time.Hour),
		},
		Analysis: AnalysisConfig{
			ScaleMeters:    envFloat("ANALYSIS_SCALE_METERS", 30),
			CloudThreshold: envFloat("ANALYSIS_CLOUD_THRESHOLD", 20),
		},
		Export: ExportConfig{
			StatusTTL: envDuration("EXPORT_STATUS_TTL", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Redis.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be positive, got %d", c.Redis.RateLimitPerMin)
	}

	if c.Raster.Engine == "" {
		return fmt.Errorf("RASTER_ENGINE is required")
	}
	if !validEngines[c.Raster.Engine] {
		return fmt.Errorf("RASTER_ENGINE must be one of http, memory; got %q", c.Raster.Engine)
	}
	if c.Raster.Engine == "http" {
		if c.Raster.URL == "" {
			return fmt.Errorf("RASTER_ENGINE_URL is required when RASTER_ENGINE is http")
		}
		if !strings.HasPrefix(c.Raster.URL, "http://") && !strings.HasPrefix(c.Raster.URL, "https://") {
			return fmt.Errorf("RASTER_ENGINE_URL must start with http:// or https://, got %q", c.Raster.URL)
		}
	}
	if c.Raster.MemoryPixels <= 0 {
		return fmt.Errorf("RASTER_MEMORY_PIXELS must be positive, got %d", c.Raster.MemoryPixels)
	}

	if c.Jobs.MaxRetained <= 0 {
		return fmt.Errorf("JOBS_MAX_RETAINED must be positive, got %d", c.Jobs.MaxRetained)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOBS_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("JOBS_QUEUE_SIZE must not be negative, got %d", c.Jobs.QueueSize)
	}
	if _, err := cron.ParseStandard(c.Jobs.SweepSchedule); err != nil {
		return fmt.Errorf("JOBS_SWEEP_SCHEDULE is not a valid cron expression: %v", err)
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("JOBS_RETENTION must be positive, got %s", c.Jobs.Retention)
	}

	if c.Analysis.ScaleMeters <= 0 {
		return fmt.Errorf("ANALYSIS_SCALE_METERS must be positive, got %g", c.Analysis.ScaleMeters)
	}
	if c.Analysis.CloudThreshold < 0 || c.Analysis.CloudThreshold > 100 {
		return fmt.Errorf("ANALYSIS_CLOUD_THRESHOLD must be between 0 and 100, got %g", c.Analysis.CloudThreshold)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
