package jobs

import (
	"encoding/json"
	"fmt"

	"repairflow/outbox"

	"github.com/hibiken/asynq"
)

// Task types match outbox topics so the dispatcher can forward rows as-is.
const (
	TaskNotificationSend = outbox.TopicNotification
	TaskRetriage         = outbox.TopicRetriage
)

func NewNotificationTask(payload outbox.NotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationSend, data), nil
}

func ParseNotificationPayload(task *asynq.Task) (outbox.NotificationPayload, error) {
	var payload outbox.NotificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return outbox.NotificationPayload{}, fmt.Errorf("jobs: parse %s: %w", task.Type(), err)
	}
	return payload, nil
}

func NewRetriageTask(payload outbox.RetriagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRetriage, data), nil
}

func ParseRetriagePayload(task *asynq.Task) (outbox.RetriagePayload, error) {
	var payload outbox.RetriagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return outbox.RetriagePayload{}, fmt.Errorf("jobs: parse %s: %w", task.Type(), err)
	}
	return payload, nil
}

// taskFromMessage turns a claimed outbox row into a task.
func taskFromMessage(msg outbox.Message) (*asynq.Task, error) {
	switch msg.Topic {
	case TaskNotificationSend, TaskRetriage:
		if !json.Valid(msg.Payload) {
			return nil, fmt.Errorf("jobs: outbox row %s has invalid payload", msg.ID)
		}
		return asynq.NewTask(msg.Topic, msg.Payload), nil
	default:
		return nil, fmt.Errorf("jobs: unknown outbox topic %q", msg.Topic)
	}
}
