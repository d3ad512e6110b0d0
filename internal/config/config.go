package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/ticket-intake-service/internal/kafka"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// Kafka: пустой список брокеров отключает события и уведомления.
	KafkaBrokers           []string
	KafkaTopicTicket       string
	KafkaTopicNotification string

	// GenAIAPIKey: без ключа извлечение работает эвристически, а поиск похожих тикетов деградирует.
	GenAIAPIKey    string
	LLMModel       string
	EmbeddingModel string
	LLMTimeout     time.Duration

	SimilarTicketsK        int
	ClassificationMinShare float64
	// TaxonomyFile: YAML с пиклистами и правилами; если пусто, используется встроенная таксономия.
	TaxonomyFile string

	RetryInterval  time.Duration
	AutoCloseAfter time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:  getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort: firstEnv("APP_PORT", "HTTP_PORT", "8097"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		KafkaBrokers:           kafka.ParseBrokers(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket:       getEnv("KAFKA_TOPIC_TICKET", "ticket.events"),
		KafkaTopicNotification: getEnv("KAFKA_TOPIC_NOTIFICATION", "notification.requests"),

		GenAIAPIKey:    firstEnv("GENAI_API_KEY", "GEMINI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gemini-2.0-flash"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		TaxonomyFile:   getEnv("TAXONOMY_FILE", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "ticket_intake")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	var err error
	if cfg.LLMTimeout, err = durationEnv("LLM_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryInterval, err = durationEnv("RETRY_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.AutoCloseAfter, err = durationEnv("AUTO_CLOSE_AFTER", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SimilarTicketsK, err = intEnv("SIMILAR_TICKETS_K", 15); err != nil {
		return nil, err
	}
	if cfg.ClassificationMinShare, err = floatEnv("CLASSIFICATION_MIN_SHARE", 0.4); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.SimilarTicketsK < 1 || c.SimilarTicketsK > 50 {
		return errors.New("config: SIMILAR_TICKETS_K must be between 1 and 50")
	}
	if c.ClassificationMinShare <= 0 || c.ClassificationMinShare > 1 {
		return errors.New("config: CLASSIFICATION_MIN_SHARE must be in (0, 1]")
	}
	if c.LLMTimeout <= 0 || c.RetryInterval <= 0 {
		return errors.New("config: LLM_TIMEOUT and RETRY_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
