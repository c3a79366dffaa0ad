// Package config loads process configuration from the environment, with an
// optional YAML file (CONFIG_FILE) providing defaults that env vars override.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP
	HTTPPort string `yaml:"httpPort"`

	// Stores
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	// Auth
	AuthMode      string `yaml:"authMode"`      // dev | hmac
	AuthSecret    string `yaml:"authSecret"`    // HS256 secret for admin tokens
	WebhookSecret string `yaml:"webhookSecret"` // HMAC secret for inbound webhooks; empty disables the check

	// Push delivery
	ExpoEndpoint    string  `yaml:"expoEndpoint"`
	ExpoAccessToken string  `yaml:"expoAccessToken"`
	PushPerSecond   float64 `yaml:"pushPerSecond"`

	// Matching and scheduling policy. The defaults mirror the upstream
	// dataset's street geometry assumptions; they are policy, not derived.
	MatchLimit    int           `yaml:"matchLimit"`
	WarnLeadTime  time.Duration `yaml:"warnLeadTime"`
	StreetWidthM  float64       `yaml:"streetWidthMeters"`
	GPSAccuracyM  float64       `yaml:"gpsAccuracyMeters"`

	// Restriction dataset
	DatasetURL      string        `yaml:"datasetUrl"`
	DatasetAppToken string        `yaml:"datasetAppToken"`
	DatasetLimit    int           `yaml:"datasetLimit"`
	DatasetRefresh  time.Duration `yaml:"datasetRefresh"`
}

const defaultDatasetURL = "https://data.sfgov.org/resource/yhqp-riqs.geojson"

// Load reads CONFIG_FILE (if set) and then applies environment overrides.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       "8080",
		AuthMode:       "dev",
		PushPerSecond:  10,
		MatchLimit:     8,
		WarnLeadTime:   2 * time.Hour,
		StreetWidthM:   10,
		GPSAccuracyM:   6,
		DatasetURL:     defaultDatasetURL,
		DatasetLimit:   50000,
		DatasetRefresh: 0, // disabled unless configured
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	cfg.HTTPPort = getEnv("PORT", cfg.HTTPPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.AuthMode = getEnv("AUTH_MODE", cfg.AuthMode)
	cfg.AuthSecret = getEnv("AUTH_HMAC_SECRET", cfg.AuthSecret)
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.ExpoEndpoint = getEnv("EXPO_PUSH_URL", cfg.ExpoEndpoint)
	cfg.ExpoAccessToken = getEnv("EXPO_ACCESS_TOKEN", cfg.ExpoAccessToken)
	cfg.PushPerSecond = getEnvFloat("PUSH_PER_SECOND", cfg.PushPerSecond)
	cfg.MatchLimit = getEnvInt("MATCH_LIMIT", cfg.MatchLimit)
	cfg.WarnLeadTime = getEnvDuration("WARN_LEAD_TIME", cfg.WarnLeadTime)
	cfg.StreetWidthM = getEnvFloat("STREET_WIDTH_METERS", cfg.StreetWidthM)
	cfg.GPSAccuracyM = getEnvFloat("GPS_ACCURACY_METERS", cfg.GPSAccuracyM)
	cfg.DatasetURL = getEnv("DATASET_URL", cfg.DatasetURL)
	cfg.DatasetAppToken = getEnv("DATASF_APP_TOKEN", cfg.DatasetAppToken)
	cfg.DatasetLimit = getEnvInt("DATASET_LIMIT", cfg.DatasetLimit)
	cfg.DatasetRefresh = getEnvDuration("DATASET_REFRESH", cfg.DatasetRefresh)
	return cfg
}

// AccuracyRadiusM is the spatial search radius: GPS uncertainty plus half the
// estimated street width, so a fix in the middle of the street still reaches
// the curb.
func (c *Config) AccuracyRadiusM() float64 {
	return c.GPSAccuracyM + c.StreetWidthM/2
}

// HalfStreetWidthM is the curb offset distance applied to centerlines.
func (c *Config) HalfStreetWidthM() float64 { return c.StreetWidthM / 2 }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
