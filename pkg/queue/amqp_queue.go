package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const attemptsHeader = "x-attempts"

// AMQPQueue publishes jobs as persistent messages on a durable RabbitMQ queue.
type AMQPQueue struct {
	url        string
	queue      string
	maxRetries int
	retryDelay time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
	wg   sync.WaitGroup
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	RetryDelay time.Duration
}

func NewAMQPQueue(cfg AMQPQueueConfig) (*AMQPQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	name := strings.TrimSpace(cfg.Queue)
	if name == "" {
		return nil, errors.New("amqp queue name required")
	}
	return &AMQPQueue{
		url:        url,
		queue:      name,
		maxRetries: intOr(cfg.MaxRetries, 3),
		retryDelay: durationOr(cfg.RetryDelay, 2*time.Second),
	}, nil
}

// Enqueue publishes the job. The producer connection is shared and re-dialled when closed.
func (q *AMQPQueue) Enqueue(ctx context.Context, kind string, payload any) (Job, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return Job{}, err
	}
	if err := q.publish(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *AMQPQueue) publish(ctx context.Context, job Job) error {
	conn, err := q.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	if err := ch.PublishWithContext(ctx, "", q.queue, false, false, toPublishing(job)); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (q *AMQPQueue) connection() (*amqp.Connection, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn, nil
	}
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	q.conn = conn
	return conn, nil
}

// Start runs one reconnecting consumer with a prefetch of concurrency.
func (q *AMQPQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		backoff := time.Second
		for ctx.Err() == nil {
			conn, err := amqp.Dial(q.url)
			if err != nil {
				slog.Warn("amqp_consumer_dial_failed", "queue", q.queue, "err", err, "retry_in", backoff.String())
				if !sleepCtx(ctx, backoff) {
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			if err := q.consume(ctx, conn, concurrency, handler); err != nil && ctx.Err() == nil {
				slog.Warn("amqp_consumer_stopped", "queue", q.queue, "err", err)
				sleepCtx(ctx, 2*time.Second)
			}
			_ = conn.Close()
		}
	}()
}

func (q *AMQPQueue) consume(ctx context.Context, conn *amqp.Connection, concurrency int, handler Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	sem := make(chan struct{}, concurrency)
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			sem <- struct{}{}
			inflight.Add(1)
			go func() {
				defer func() { <-sem; inflight.Done() }()
				q.handleDelivery(ctx, ch, d, handler)
			}()
		}
	}
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, handler Handler) {
	job, err := fromDelivery(d)
	if err != nil {
		slog.Warn("amqp_job_malformed", "queue", q.queue, "err", err)
		_ = d.Nack(false, false)
		return
	}
	job.Attempts++
	job.Status = StatusProcessing
	err = handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Error("queue_job_failed", "job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts, "err", err)
		_ = d.Nack(false, false)
		return
	}
	if !sleepCtx(ctx, q.retryDelay) {
		// shutting down: hand the message back untouched
		_ = d.Nack(false, true)
		return
	}
	job.UpdatedAt = time.Now().UTC()
	if perr := ch.PublishWithContext(ctx, "", q.queue, false, false, toPublishing(job)); perr != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close waits for the consumer (cancel its context first) and closes the producer connection.
func (q *AMQPQueue) Close() error {
	q.wg.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}

func toPublishing(job Job) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Kind,
		Timestamp:    job.CreatedAt,
		Headers:      amqp.Table{attemptsHeader: int32(job.Attempts)},
		Body:         job.Payload,
	}
}

func fromDelivery(d amqp.Delivery) (Job, error) {
	if d.MessageId == "" || d.Type == "" {
		return Job{}, errors.New("message id and type required")
	}
	if !json.Valid(d.Body) {
		return Job{}, errors.New("payload is not json")
	}
	job := Job{
		ID:        d.MessageId,
		Kind:      d.Type,
		Payload:   json.RawMessage(d.Body),
		Status:    StatusQueued,
		CreatedAt: d.Timestamp,
		UpdatedAt: time.Now().UTC(),
	}
	switch v := d.Headers[attemptsHeader].(type) {
	case int32:
		job.Attempts = int(v)
	case int64:
		job.Attempts = int(v)
	case int:
		job.Attempts = v
	}
	return job, nil
}
