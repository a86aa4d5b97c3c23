// Package config loads runtime settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already present in the process environment win over the file. The result
// is a plain struct handed to constructors, so nothing else in the program
// reads os.Getenv.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

const minSecretLength = 16

type Config struct {
	Port int

	StoreDriver string
	MongoURI    string
	MongoDB     string
	SQLitePath  string

	JWTSecret string
	JWTTTL    time.Duration

	CloudinaryURL       string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	AssetFolder         string

	CORSOrigins  []string
	MaxUploadMB  int64
	GitHubID     string
	GitHubSecret string
	GitHubCBURL  string

	LogLevel  slog.Level
	LogFormat string
}

// GitHubEnabled reports whether GitHub sign-in credentials are present.
func (c Config) GitHubEnabled() bool {
	return c.GitHubID != "" && c.GitHubSecret != ""
}

// CloudinaryEnabled reports whether image hosting credentials are present.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryURL != "" ||
		(c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != "")
}

// MaxUploadBytes is the request body limit for multipart endpoints.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads .env (if present) and the environment. It does not validate;
// call Validate before connecting to anything.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}
	return fromEnv(os.Getenv)
}

// fromEnv builds a Config from a lookup function so tests need not touch the
// real environment.
func fromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		StoreDriver:         strings.ToLower(get("STORE_DRIVER", DriverMongo)),
		MongoURI:            get("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:             get("MONGO_DB", "civic_reports"),
		SQLitePath:          get("SQLITE_PATH", "data/civic.db"),
		JWTSecret:           getenv("JWT_SECRET"),
		CloudinaryURL:       get("CLOUDINARY_URL", ""),
		CloudinaryCloudName: get("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    get("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: get("CLOUDINARY_API_SECRET", ""),
		AssetFolder:         get("ASSET_FOLDER", "civic-reports"),
		GitHubID:            get("GITHUB_CLIENT_ID", ""),
		GitHubSecret:        get("GITHUB_CLIENT_SECRET", ""),
		LogFormat:           strings.ToLower(get("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.Port, err = strconv.Atoi(get("PORT", "8080")); err != nil {
		return Config{}, fmt.Errorf("config: PORT: %w", err)
	}
	if cfg.JWTTTL, err = time.ParseDuration(get("JWT_TTL", "168h")); err != nil {
		return Config{}, fmt.Errorf("config: JWT_TTL: %w", err)
	}
	if cfg.MaxUploadMB, err = strconv.ParseInt(get("MAX_UPLOAD_MB", "5"), 10, 64); err != nil {
		return Config{}, fmt.Errorf("config: MAX_UPLOAD_MB: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	for _, o := range strings.Split(get("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	cfg.GitHubCBURL = get("GITHUB_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port))
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength))
	}
	switch c.StoreDriver {
	case DriverMongo, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of mongo, sqlite, memory", c.StoreDriver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not one of text, json", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by LogLevel and LogFormat.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
