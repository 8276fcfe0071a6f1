package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type resetMail struct {
	To   string `json:"to"`
	Link string `json:"link"`
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, job.ID, job.Kind, job.Payload); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != job.ID || got.Values["kind"] != "mail.password_reset" || got.Values["payload"] != string(job.Payload) {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, job.ID, job.Kind, job.Payload); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueEnqueueRecordsStatus(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q := newTestQueue(t, redisSrv.Addr(), 3)
	ctx := context.Background()
	job, err := q.Enqueue(ctx, "mail.password_reset", resetMail{To: "a@example.com"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusQueued || got.Kind != "mail.password_reset" || got.Attempts != 0 {
		t.Fatalf("unexpected job %+v", got)
	}
	if _, err := q.Enqueue(ctx, " ", nil); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func TestRedisJobQueueRetriesThenSucceeds(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q := newTestQueue(t, redisSrv.Addr(), 3)
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan Job, 1)
	q.Start(ctx, 1, func(_ context.Context, job Job) error {
		if calls.Add(1) == 1 {
			return errors.New("smtp unavailable")
		}
		done <- job
		return nil
	})

	job, err := q.Enqueue(context.Background(), "mail.password_reset", resetMail{To: "a@example.com", Link: "http://x/reset"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-done:
		var mail resetMail
		if err := got.Decode(&mail); err != nil || mail.To != "a@example.com" {
			t.Fatalf("unexpected payload %+v err=%v", mail, err)
		}
		if got.Attempts != 2 {
			t.Fatalf("expected second attempt, got %d", got.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not processed")
	}
	waitForStatus(t, q, job.ID, StatusDone)
	cancel()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRedisJobQueueGivesUpAfterMaxRetries(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q := newTestQueue(t, redisSrv.Addr(), 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	q.Start(ctx, 1, func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	job, err := q.Enqueue(context.Background(), "mail.password_reset", resetMail{To: "b@example.com"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got := waitForStatus(t, q, job.ID, StatusFailed)
	if calls.Load() != 2 || got.ErrorMessage != "permanent" {
		t.Fatalf("unexpected failure state calls=%d job=%+v", calls.Load(), got)
	}
}

func waitForStatus(t *testing.T, q *RedisJobQueue, jobID, status string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _, _ := q.GetJob(context.Background(), jobID)
		if got.Status == status {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, status)
	return Job{}
}

func newTestQueue(t *testing.T, addr string, maxRetries int) *RedisJobQueue {
	t.Helper()
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       addr,
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer",
		MaxRetries: maxRetries,
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, Job) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q := newTestQueue(t, redisSrv.Addr(), 3)
	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "mail.password_reset", resetMail{To: "a@example.com"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job
}
