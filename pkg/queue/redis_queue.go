package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"studiumai/internal/util"
)

// RedisJobQueue is a Redis Streams queue with a consumer group. Job state is
// mirrored into a hash per job so producers can look it up.
type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
	wg           sync.WaitGroup
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       durationOr(cfg.JobTTL, 24*time.Hour),
		maxRetries:   intOr(cfg.MaxRetries, 3),
		block:        durationOr(cfg.Block, 5*time.Second),
		claimIdle:    durationOr(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   durationOr(cfg.RetryDelay, 2*time.Second),
		maxLen:       int64(intOr(int(cfg.MaxLen), 10000)),
		readCount:    int64(intOr(int(cfg.ReadCount), 10)),
		claimCount:   int64(intOr(int(cfg.ClaimCount), 10)),
	}, nil
}

// Enqueue stores the job state and appends it to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, kind string, payload any) (Job, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return Job{}, err
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job.ID, job.Kind, job.Payload),
	}).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
}

// Close waits for running consumers (cancel their context first) and closes the client.
func (q *RedisJobQueue) Close() error {
	q.wg.Wait()
	return q.client.Close()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("queue_group_create_failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				// broker hiccup: avoid a hot loop
				sleepCtx(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	kind, _ := msg.Values["kind"].(string)
	payload, _ := msg.Values["payload"].(string)
	if jobID == "" || kind == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, kind, payload)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err = handler(ctx, job)
	if err == nil {
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Error("queue_job_failed", "job_id", jobID, "kind", kind, "attempts", job.Attempts, "err", err)
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
	if !sleepCtx(ctx, q.retryDelay) {
		return
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID, kind, []byte(payload))
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds the job and acks the original in one transaction, so a
// failure leaves the original pending for XAUTOCLAIM.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, kind string, payload []byte) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(jobID, kind, payload),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID, kind, payload string) (Job, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.ID == "" {
		job = Job{ID: jobID}
	}
	job.Kind = kind
	job.Payload = json.RawMessage(payload)
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ID = jobID
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

// writeStatus keeps job metadata only; the payload lives in the stream.
func (q *RedisJobQueue) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	fields := map[string]any{
		"id":        job.ID,
		"kind":      job.Kind,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func streamValues(jobID, kind string, payload []byte) map[string]any {
	return map[string]any{
		"job_id":  jobID,
		"kind":    kind,
		"payload": string(payload),
	}
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{ID: jobID, Kind: data["kind"], Status: data["status"], ErrorMessage: data["error"]}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
