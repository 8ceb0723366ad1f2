package messaging_test

import (
	"context"
	"encoding/json"
	"fire-detection-backend/internal/messaging"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := messaging.NewInMemoryQueue()

	event := messaging.PredictionEvent{
		Id:                    7,
		ModelKind:             "detector",
		DetectionCount:        2,
		MaxConfidence:         0.83,
		ClassifierProbability: -1,
		Timestamp:             time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, queue.PublishPredictionEvent(context.Background(), event))

	received := <-queue.Events()
	assert.Equal(t, messaging.PredictionQueue, received.Type())

	var decoded messaging.PredictionEvent
	require.NoError(t, json.Unmarshal(received.Payload(), &decoded))
	assert.Equal(t, event, decoded)
	assert.NoError(t, received.Ack())

	queue.Close()
	queue.Close()

	_, ok := <-queue.Events()
	assert.False(t, ok)
	assert.Error(t, queue.PublishPredictionEvent(context.Background(), event))
}

func TestInMemoryQueueDoesNotBlockWhenFull(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	var err error
	for i := 0; i < 200 && err == nil; i++ {
		err = queue.PublishPredictionEvent(context.Background(), messaging.PredictionEvent{Id: uint(i)})
	}
	assert.ErrorIs(t, err, messaging.ErrQueueFull)
}
