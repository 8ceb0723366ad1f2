package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type DatabaseConfig struct {
	URL            string        `env:"DATABASE_URL" envDefault:"sqlite://data/results.db"`
	MaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns       int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT" envDefault:"5s"`
	MaxConnIdle    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	ResultCacheTTL time.Duration `env:"RESULT_CACHE_TTL" envDefault:"5m"`
}

type StorageConfig struct {
	Backend         string `env:"STORAGE_BACKEND" envDefault:"local"`
	UploadFolder    string `env:"UPLOAD_FOLDER" envDefault:"uploads"`
	ProcessedFolder string `env:"PROCESSED_FOLDER" envDefault:"processed"`
	S3EndpointURL   string `env:"S3_ENDPOINT_URL"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	Bucket          string `env:"S3_BUCKET" envDefault:"fire-detection"`
}

type ModelConfig struct {
	YOLOModelPath       string  `env:"YOLO_MODEL_PATH" envDefault:"models/yolov8_smoke.onnx"`
	YOLOLabelsPath      string  `env:"YOLO_LABELS_PATH"`
	ConfidenceThreshold float64 `env:"YOLO_CONFIDENCE_THRESHOLD" envDefault:"0.1"`
	IoUThreshold        float64 `env:"YOLO_IOU_THRESHOLD" envDefault:"0.7"`
	ONNXRuntimeLib      string  `env:"ONNX_RUNTIME_DYLIB"`
	YOLOThreads         int     `env:"YOLO_THREADS"`
	CNNModelPath        string  `env:"CNN_MODEL_PATH" envDefault:"models/fire_cnn.tflite"`
	CNNThreads          int     `env:"CNN_THREADS" envDefault:"1"`
	ConcurrentInference bool    `env:"CONCURRENT_INFERENCE" envDefault:"false"`
	LabelFontPath       string  `env:"LABEL_FONT_PATH"`
}

type Config struct {
	APIPort            string        `env:"API_PORT" envDefault:"5000"`
	MaxUploadMB        int64         `env:"MAX_UPLOAD_MB" envDefault:"16"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	RabbitMQURL        string        `env:"RABBITMQ_URL"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"text"`

	Database DatabaseConfig
	Storage  StorageConfig
	Models   ModelConfig
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case StorageLocal:
	case StorageS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET must be set when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND '%s': expected local or s3", c.Storage.Backend)
	}

	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.Database.MaxConns)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Database.AcquireTimeout <= 0 {
		return fmt.Errorf("DB_ACQUIRE_TIMEOUT must be positive")
	}
	if t := c.Models.ConfidenceThreshold; t < 0 || t >= 1 {
		return fmt.Errorf("YOLO_CONFIDENCE_THRESHOLD must be in [0, 1), got %v", t)
	}
	if t := c.Models.IoUThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("YOLO_IOU_THRESHOLD must be in (0, 1], got %v", t)
	}
	if c.Models.YOLOThreads < 0 {
		return fmt.Errorf("YOLO_THREADS cannot be negative, got %d", c.Models.YOLOThreads)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
