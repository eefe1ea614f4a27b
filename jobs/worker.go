package jobs

import (
	"context"
	"errors"
	"fmt"

	"repairflow/logger"
	"repairflow/notify"

	"github.com/hibiken/asynq"
)

type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

type Retriager interface {
	Retriage(ctx context.Context, maintenanceRequestID, workOrderID, excludeVendorID string) error
}

// Worker runs the asynq server for outbox tasks.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	notifier Notifier
	triage   Retriager
	log      *logger.Logger
}

func NewWorker(redisURL string, tlsInsecure bool, queue string, concurrency int, notifier Notifier, triage Retriager, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(redisURL, tlsInsecure)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = "default"
	}
	if concurrency < 1 {
		concurrency = 10
	}
	if log == nil {
		log = logger.Discard()
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})

	w := newHandlers(notifier, triage, log)
	w.server = server
	return w, nil
}

func newHandlers(notifier Notifier, triage Retriager, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{mux: mux, notifier: notifier, triage: triage, log: log}
	mux.HandleFunc(TaskNotificationSend, w.handleNotification)
	mux.HandleFunc(TaskRetriage, w.handleRetriage)
	return w
}

// handleNotification is best-effort: delivery failures are logged and the
// task is not retried.
func (w *Worker) handleNotification(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNotificationPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	err = w.notifier.Notify(ctx, notify.Message{
		Token:    payload.Token,
		Topic:    payload.PushTopic,
		Platform: payload.Platform,
		Title:    payload.Title,
		Body:     payload.Body,
		Data:     map[string]string{"workOrderId": payload.WorkOrderID},
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notify.ErrNoToken):
		w.log.WithContext(ctx).Debug("notification without device token dropped", "vendor_id", payload.VendorID)
		return nil
	default:
		w.log.WithContext(ctx).CollaboratorFailure("push_gateway", "notify", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
}

func (w *Worker) handleRetriage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRetriagePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := w.triage.Retriage(ctx, payload.MaintenanceRequestID, payload.WorkOrderID, payload.DeclinedVendorID); err != nil {
		w.log.WithContext(ctx).CollaboratorFailure("triage", "retriage", err)
		return err
	}
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then waits for
// in-flight tasks and shuts down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
