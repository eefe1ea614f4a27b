package jobs

import (
	"context"
	"errors"
	"time"

	"repairflow/logger"
	"repairflow/outbox"

	"github.com/hibiken/asynq"
)

// Claimer is the outbox side of the dispatcher; *outbox.Repository satisfies it.
type Claimer interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Message, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkPending(ctx context.Context, id string, lastErr string) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher hands committed outbox rows to the job queue.
type Dispatcher struct {
	repo     Claimer
	client   Enqueuer
	queue    string
	batch    int
	interval time.Duration
	log      *logger.Logger
}

func NewDispatcher(repo Claimer, client Enqueuer, queue string, log *logger.Logger) *Dispatcher {
	if queue == "" {
		queue = "default"
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		repo:     repo,
		client:   client,
		queue:    queue,
		batch:    50,
		interval: 2 * time.Second,
		log:      log,
	}
}

// RunOnce claims one batch and enqueues it. It returns how many rows were
// handed off.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	msgs, err := d.repo.ClaimPending(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range msgs {
		task, err := taskFromMessage(msg)
		if err == nil {
			// the row id doubles as task id so a re-claimed row is not queued
			// twice; retention keeps the id reserved after the task finishes
			_, err = d.client.EnqueueContext(ctx, task,
				asynq.Queue(d.queue),
				asynq.TaskID(msg.ID),
				asynq.MaxRetry(maxRetry(msg.Topic)),
				asynq.Retention(taskRetention),
			)
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				err = nil
			}
		}
		if err != nil {
			d.log.Warn("outbox hand-off failed", "outbox_id", msg.ID, "topic", msg.Topic, "attempts", msg.Attempts, "error", err)
			if markErr := d.repo.MarkPending(ctx, msg.ID, err.Error()); markErr != nil {
				d.log.Error("outbox mark pending failed", "outbox_id", msg.ID, "error", markErr)
			}
			continue
		}
		if err := d.repo.MarkProcessed(ctx, msg.ID); err != nil {
			d.log.Error("outbox mark processed failed", "outbox_id", msg.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox claim failed", "error", err)
		}
	}
}

// taskRetention outlasts outbox.DefaultReclaimAfter by a wide margin.
const taskRetention = 24 * time.Hour

// notifications are not retried; a retriage is safe to repeat
func maxRetry(topic string) int {
	if topic == TaskNotificationSend {
		return 0
	}
	return 8
}
