package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "HTTP_PORT", "KAFKA_BROKERS", "LLM_TIMEOUT", "SIMILAR_TICKETS_K",
		"CLASSIFICATION_MIN_SHARE", "RETRY_INTERVAL", "AUTO_CLOSE_AFTER", "GENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8097", cfg.HTTPPort)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 20*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 15, cfg.SimilarTicketsK)
	assert.Equal(t, 0.4, cfg.ClassificationMinShare)
	assert.Equal(t, 7*24*time.Hour, cfg.AutoCloseAfter)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("SIMILAR_TICKETS_K", "30")
	t.Setenv("GENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 30, cfg.SimilarTicketsK)
	assert.Equal(t, "secret", cfg.GenAIAPIKey)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("RETRY_INTERVAL", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "RETRY_INTERVAL")
}

func TestValidate(t *testing.T) {
	cfg := &Config{AppEnv: "production", SimilarTicketsK: 15, ClassificationMinShare: 0.4,
		LLMTimeout: time.Second, RetryInterval: time.Minute}
	cfg.DB.Host, cfg.DB.Database = "db", "tickets"
	assert.Error(t, cfg.Validate())

	cfg.DB.Password = "p"
	assert.NoError(t, cfg.Validate())

	cfg.SimilarTicketsK = 51
	assert.Error(t, cfg.Validate())
}

func TestDatabaseURLEscapesPassword(t *testing.T) {
	cfg := &Config{}
	cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port = "u", "p@ss word", "h", "5432"
	cfg.DB.Database, cfg.DB.SSLMode = "d", "disable"
	assert.Equal(t, "postgres://u:p%40ss+word@h:5432/d?sslmode=disable", cfg.DatabaseURL())
}
