// Package config loads server settings from the environment.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string
	DatabaseURL       string
	RedisURL          string
	AdminToken        string
	ModerationEnabled bool
	CORSOrigin        string
	LogLevel          string
	UploadDir         string
	PublicBaseURL     string
	GeocoderEnabled   bool
	GeocoderURL       string
	UploadInterval    time.Duration
}

// Keys understood by Load. Each is read from the environment of the same name.
const (
	KeyPort              = "PORT"
	KeyDatabaseURL       = "DATABASE_URL"
	KeyRedisURL          = "REDIS_URL"
	KeyAdminToken        = "X_ADMIN_TOKEN"
	KeyModerationEnabled = "MODERATION_ENABLED"
	KeyCORSOrigin        = "CORS_ORIGIN"
	KeyLogLevel          = "LOG_LEVEL"
	KeyUploadDir         = "UPLOAD_DIR"
	KeyPublicBaseURL     = "PUBLIC_BASE_URL"
	KeyGeocoderEnabled   = "GEOCODER_ENABLED"
	KeyGeocoderURL       = "GEOCODER_URL"
	KeyUploadRateSeconds = "UPLOAD_RATE_SECONDS"
)

// SetDefaults registers fallback values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyDatabaseURL, "sqlite://skyarchive.db")
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyAdminToken, "")
	v.SetDefault(KeyModerationEnabled, false)
	v.SetDefault(KeyCORSOrigin, "*")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyUploadDir, "uploads")
	v.SetDefault(KeyPublicBaseURL, "/uploads")
	v.SetDefault(KeyGeocoderEnabled, false)
	v.SetDefault(KeyGeocoderURL, "https://nominatim.openstreetmap.org")
	v.SetDefault(KeyUploadRateSeconds, 3)
}

// LoadDotEnv reads .env if present. A missing file is not an error so that
// production can rely on real environment variables.
func LoadDotEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// New returns a viper instance wired to the environment with defaults set.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load materialises a Config from v.
func Load(v *viper.Viper) *Config {
	secs := v.GetInt(KeyUploadRateSeconds)
	if secs < 0 {
		secs = 0
	}
	return &Config{
		Port:              v.GetString(KeyPort),
		DatabaseURL:       v.GetString(KeyDatabaseURL),
		RedisURL:          v.GetString(KeyRedisURL),
		AdminToken:        v.GetString(KeyAdminToken),
		ModerationEnabled: v.GetBool(KeyModerationEnabled),
		CORSOrigin:        v.GetString(KeyCORSOrigin),
		LogLevel:          v.GetString(KeyLogLevel),
		UploadDir:         v.GetString(KeyUploadDir),
		PublicBaseURL:     v.GetString(KeyPublicBaseURL),
		GeocoderEnabled:   v.GetBool(KeyGeocoderEnabled),
		GeocoderURL:       v.GetString(KeyGeocoderURL),
		UploadInterval:    time.Duration(secs) * time.Second,
	}
}
