package messaging

import (
	"context"
	"time"
)

const (
	PredictionQueue = "prediction_events"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

// PredictionEvent announces a persisted prediction to downstream consumers.
type PredictionEvent struct {
	Id                    uint      `json:"id"`
	ModelKind             string    `json:"model_kind"`
	DetectionCount        int       `json:"detection_count"`
	MaxConfidence         float64   `json:"max_confidence"`
	ClassifierProbability float64   `json:"classifier_probability"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
	Timestamp             time.Time `json:"timestamp"`
}

type Event interface {
	Type() string

	Payload() []byte

	Ack() error

	Reject() error
}

type Publisher interface {
	PublishPredictionEvent(ctx context.Context, event PredictionEvent) error

	Close()
}

type Receiver interface {
	Events() <-chan Event

	Close()
}
