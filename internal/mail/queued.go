package mail

import (
	"context"
	"fmt"

	"studiumai/internal/metrics"
	"studiumai/pkg/queue"
)

// JobKind tags mail jobs on the queue.
const JobKind = "mail.send"

// QueuedMailer hands messages to a background queue instead of sending inline.
type QueuedMailer struct {
	queue     queue.Queue
	transport string
}

func NewQueuedMailer(q queue.Queue, transport string) *QueuedMailer {
	return &QueuedMailer{queue: q, transport: transport}
}

func (m *QueuedMailer) Send(ctx context.Context, msg Message) error {
	job, err := m.queue.Enqueue(ctx, JobKind, msg)
	if err != nil {
		metrics.RecordMail(m.transport, err)
		return fmt.Errorf("enqueue mail: %w", err)
	}
	logger(ctx).Debug("mail_enqueued", "job_id", job.ID, "transport", m.transport)
	return nil
}

// JobHandler delivers queued mail jobs with next; other job kinds are dropped.
func JobHandler(next Mailer) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		if job.Kind != JobKind {
			logger(ctx).Warn("mail_job_unknown_kind", "job_id", job.ID, "kind", job.Kind)
			return nil
		}
		var msg Message
		if err := job.Decode(&msg); err != nil {
			logger(ctx).Error("mail_job_malformed", "job_id", job.ID, "err", err)
			return nil
		}
		if err := next.Send(ctx, msg); err != nil {
			return fmt.Errorf("deliver mail job %s: %w", job.ID, err)
		}
		return nil
	}
}
