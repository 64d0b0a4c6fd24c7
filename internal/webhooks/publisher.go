package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"errandplan/internal/store"
)

const EventPlanCompleted = "plan.completed"

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues one signed callback for a run. The event id is derived from
// the run and event type, so emitting twice queues once.
func (p *Publisher) Emit(ctx context.Context, runID, eventType, url, secret string, data any) (string, error) {
	if url == "" {
		return "", fmt.Errorf("webhooks: callback url required")
	}
	payload := map[string]any{
		"id":    fmt.Sprintf("evt_%s_%s", runID, eventType),
		"type":  eventType,
		"runId": runID,
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"data":  data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("webhooks: encode payload: %w", err)
	}
	return p.Store.EnqueueWebhook(ctx, runID, eventType, url, secret, body)
}
