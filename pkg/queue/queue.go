// Package queue delivers background jobs (password reset mail) through
// Redis Streams or RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studiumai/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one unit of background work. Payload is the JSON body the producer enqueued.
type Job struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewJob builds a queued job with a fresh ID and the JSON-encoded payload.
func NewJob(kind string, payload any) (Job, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Job{}, errors.New("job kind required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode job payload: %w", err)
	}
	now := time.Now().UTC()
	return Job{
		ID:        util.NewID(),
		Kind:      kind,
		Payload:   body,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Handler processes one job; a non-nil error schedules a retry until attempts run out.
type Handler func(ctx context.Context, job Job) error

// Queue is implemented by RedisJobQueue and AMQPQueue.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any) (Job, error)
	// Start runs consumers until ctx is cancelled.
	Start(ctx context.Context, concurrency int, handler Handler)
	Close() error
}
