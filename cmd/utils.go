package cmd

import (
	"context"
	"fire-detection-backend/internal/annotate"
	"fire-detection-backend/internal/config"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/core/cnn"
	"fire-detection-backend/internal/core/yolo"
	"fire-detection-backend/internal/database"
	"fire-detection-backend/internal/messaging"
	"fire-detection-backend/internal/preprocess"
	"fire-detection-backend/internal/storage"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// InitLogger installs the default slog handler: tint for text output or the
// standard JSON handler.
func InitLogger(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid LOG_LEVEL '%s', using info", level)
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.DateTime,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// DetectorConfig maps the model settings onto the YOLO backend. A zero thread
// count keeps onnxruntime's default.
func DetectorConfig(cfg config.ModelConfig, labels []string) yolo.Config {
	return yolo.Config{
		ModelPath:           cfg.YOLOModelPath,
		InputSize:           preprocess.DetectorInputSize,
		Labels:              labels,
		Threads:             cfg.YOLOThreads,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IoUThreshold:        cfg.IoUThreshold,
	}
}

func DatabaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		URL:             cfg.URL,
		MaxConns:        int(cfg.MaxConns),
		MinConns:        int(cfg.MinConns),
		MaxConnIdleTime: cfg.MaxConnIdle,
	}
}

// NewModelLoaders binds each model kind to its runtime backend. Nothing is
// loaded until the registry asks for it.
func NewModelLoaders(cfg config.ModelConfig) (map[core.ModelKind]core.ModelLoader, error) {
	labels := core.DefaultDetectorLabels()
	if cfg.YOLOLabelsPath != "" {
		var err error
		labels, err = core.LoadDetectorLabels(cfg.YOLOLabelsPath)
		if err != nil {
			return nil, err
		}
	}

	detectorConfig := DetectorConfig(cfg, labels)

	return map[core.ModelKind]core.ModelLoader{
		core.Detector: func() (core.Model, error) {
			if err := yolo.InitRuntime(cfg.ONNXRuntimeLib); err != nil {
				return nil, err
			}
			return yolo.LoadDetector(detectorConfig)
		},
		core.Classifier: func() (core.Model, error) {
			return cnn.LoadClassifier(cfg.CNNModelPath, cfg.CNNThreads)
		},
	}, nil
}

func NewRenderer(cfg config.ModelConfig) *annotate.Renderer {
	opts := []annotate.Option{}
	if cfg.LabelFontPath != "" {
		fontOpt, err := annotate.LoadFont(cfg.LabelFontPath, 14)
		if err != nil {
			slog.Warn("using default label font", "error", err)
		} else {
			opts = append(opts, fontOpt)
		}
	}
	return annotate.NewRenderer(image.Pt(preprocess.DetectorInputSize, preprocess.DetectorInputSize), opts...)
}

func NewFileStore(ctx context.Context, cfg config.StorageConfig) (storage.FileStore, error) {
	if strings.ToLower(cfg.Backend) != config.StorageS3 {
		return storage.NewLocalFileStore(), nil
	}

	store, err := storage.NewS3FileStore(ctx, cfg.Bucket, storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// NewPublisher connects to RabbitMQ when a URL is configured and otherwise
// returns nil, which disables prediction events.
func NewPublisher(rabbitMQURL string) (messaging.Publisher, error) {
	if rabbitMQURL == "" {
		slog.Info("RABBITMQ_URL not set, prediction events are disabled")
		return nil, nil
	}
	publisher, err := messaging.NewRabbitMQPublisher(rabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return publisher, nil
}
