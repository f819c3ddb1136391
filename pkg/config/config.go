package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures the full runtime configuration for the ingestion service.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Table   TableConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Upload  UploadConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"imageflow-ingestion"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"APP_LOG_ENCODING" envDefault:"json"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// KafkaConfig enables ingested events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	IngestedTopic    string        `env:"KAFKA_INGESTED_TOPIC" envDefault:"imageflow.ingested"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

// StorageConfig addresses the object store. See objectstore.ParseConnectionString.
type StorageConfig struct {
	ConnectionString string `env:"STORAGE_CONNECTION_STRING,required,notEmpty"`
	ContainerName    string `env:"STORAGE_CONTAINER_NAME,required,notEmpty"`
}

// TableConfig addresses the record store. See recordstore.Open.
type TableConfig struct {
	ConnectionString string `env:"TABLE_CONNECTION_STRING,required,notEmpty"`
	Name             string `env:"TABLE_NAME,required,notEmpty"`
	PartitionKey     string `env:"TABLE_PARTITION_KEY,required,notEmpty"`
	RowKey           string `env:"TABLE_ROW_KEY"`
	UpsertMode       string `env:"TABLE_UPSERT_MODE" envDefault:"merge"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=imageflow"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

type UploadConfig struct {
	MaxSizeBytes      int64   `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"52428800"`
	MultipartMemBytes int64   `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"33554432"`
	RateLimitRPS      float64 `env:"UPLOAD_RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst    int     `env:"UPLOAD_RATE_LIMIT_BURST" envDefault:"10"`
}

// Load reads optional .env files and parses environment variables into
// Config. Variables already set in the environment take precedence.
func Load(dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(dotenv...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
