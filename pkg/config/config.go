package config

import (
	"log"
	"os"
	"time"

	"github.com/Contoso-Inc/eShopOnAzure/pkg/utils"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel   string     `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP       HTTP       `yaml:"http"`
	Postgres   PG         `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Embeddings Embeddings `yaml:"embeddings"`
	Outbox     Outbox     `yaml:"outbox"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3001"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"10m"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"catalog_events"`
}

// Embeddings configures the vector subsystem. An empty base URL disables it
// entirely: search falls back to name-prefix matching and mutations persist
// items without an embedding.
type Embeddings struct {
	BaseURL   string `yaml:"base_url" env:"EMBEDDINGS_BASE_URL"`
	APIKey    string `yaml:"api_key" env:"EMBEDDINGS_API_KEY"`
	Model     string `yaml:"model" env:"EMBEDDINGS_MODEL" env-default:"text-embedding-nomic-embed-text-v1.5"`
	Dimension int    `yaml:"dimension" env:"EMBEDDINGS_DIMENSION" env-default:"384"`
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env-default:"50"`
	Interval    time.Duration `yaml:"interval" env-default:"500ms"`
	MaxAttempts int64         `yaml:"max_attempts" env-default:"10"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
