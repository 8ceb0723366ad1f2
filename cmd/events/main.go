package main

import (
	"context"
	"encoding/json"
	"fire-detection-backend/cmd"
	"fire-detection-backend/internal/config"
	"fire-detection-backend/internal/messaging"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
)

func main() {
	log.Println("Starting prediction event consumer...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set")
	}

	cmd.InitLogger(cfg.LogLevel, cfg.LogFormat)

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("error connecting to rabbitmq: %v", err)
	}
	defer receiver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down event consumer")
			return
		case event := <-receiver.Events():
			handleEvent(event)
		}
	}
}

func handleEvent(event messaging.Event) {
	var pe messaging.PredictionEvent
	if err := json.Unmarshal(event.Payload(), &pe); err != nil {
		slog.Error("malformed prediction event", "queue", event.Type(), "error", err)
		if err := event.Reject(); err != nil {
			slog.Error("error rejecting event", "error", err)
		}
		return
	}

	slog.Info("prediction completed",
		"id", pe.Id,
		"model", pe.ModelKind,
		"detections", pe.DetectionCount,
		"max_confidence", pe.MaxConfidence,
		"classifier_probability", pe.ClassifierProbability,
		"processing_time_seconds", pe.ProcessingTimeSeconds,
		"timestamp", pe.Timestamp,
	)

	if err := event.Ack(); err != nil {
		slog.Error("error acking event", "id", pe.Id, "error", err)
	}
}
