package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := fromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "civic_reports", cfg.MongoDB)
	assert.Equal(t, "data/civic.db", cfg.SQLitePath)
	assert.Equal(t, 168*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "civic-reports", cfg.AssetFolder)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHubCBURL)
	assert.False(t, cfg.GitHubEnabled())
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := fromEnv(envOf(map[string]string{
		"PORT":                  "9090",
		"STORE_DRIVER":          "SQLite",
		"JWT_TTL":               "2h",
		"CORS_ORIGINS":          "https://a.example, https://b.example,",
		"MAX_UPLOAD_MB":         "10",
		"LOG_LEVEL":             "debug",
		"LOG_FORMAT":            "JSON",
		"CLOUDINARY_CLOUD_NAME": "demo",
		"CLOUDINARY_API_KEY":    "key",
		"CLOUDINARY_API_SECRET": "secret",
		"GITHUB_CLIENT_ID":      "id",
		"GITHUB_CLIENT_SECRET":  "shh",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 2*time.Hour, cfg.JWTTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http://localhost:9090/auth/github/callback", cfg.GitHubCBURL)
	assert.True(t, cfg.CloudinaryEnabled())
	assert.True(t, cfg.GitHubEnabled())
}

func TestFromEnv_RejectsMalformedValues(t *testing.T) {
	for _, kv := range [][2]string{
		{"PORT", "eighty"},
		{"JWT_TTL", "a week"},
		{"MAX_UPLOAD_MB", "lots"},
		{"LOG_LEVEL", "chatty"},
	} {
		_, err := fromEnv(envOf(map[string]string{kv[0]: kv[1]}))
		assert.ErrorContains(t, err, kv[0])
	}
}

func TestValidate(t *testing.T) {
	valid, err := fromEnv(envOf(map[string]string{"JWT_SECRET": "0123456789abcdef"}))
	require.NoError(t, err)
	require.NoError(t, valid.Validate())

	short := valid
	short.JWTSecret = "tooshort"
	assert.ErrorContains(t, short.Validate(), "JWT_SECRET")

	driver := valid
	driver.StoreDriver = "postgres"
	assert.ErrorContains(t, driver.Validate(), "STORE_DRIVER")

	both := short
	both.StoreDriver = "postgres"
	err = both.Validate()
	assert.ErrorContains(t, err, "JWT_SECRET")
	assert.ErrorContains(t, err, "STORE_DRIVER")
}
