package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeTransform = "media:transform"

type TransformPayload struct {
	TaskID      string    `json:"task_id"`
	Kind        string    `json:"kind"`
	SourceType  string    `json:"source_type,omitempty"`
	ObjectKey   string    `json:"object_key,omitempty"`
	MIME        string    `json:"mime,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Resolution  string    `json:"resolution,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewTransformTask(payload TransformPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransform, body), nil
}

func ParseTransformPayload(task *asynq.Task) (TransformPayload, error) {
	var payload TransformPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformPayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	return payload, nil
}
