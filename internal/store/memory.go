package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"errandplan/internal/model"
	"errandplan/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	runs    map[string]model.RunSummary
	runIDs  []string                        // insertion order
	planMx  map[string][]opt.RunMetrics     // runId -> one entry per strategy
	weights map[string][]opt.WeightSnapshot // runId/strategy -> snapshots
	// Webhooks queue state
	deliveries  map[string]*WebhookDelivery
	deliveryIDs []string
	dedup       map[string]string // eventType|url|key -> delivery id
}

func NewMemory() *Memory {
	return &Memory{
		runs:       map[string]model.RunSummary{},
		planMx:     map[string][]opt.RunMetrics{},
		weights:    map[string][]opt.WeightSnapshot{},
		deliveries: map[string]*WebhookDelivery{},
		dedup:      map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) SaveRun(ctx context.Context, run model.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		return fmt.Errorf("store: run id required")
	}
	if _, ok := m.runs[run.ID]; !ok {
		m.runIDs = append(m.runIDs, run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.RunSummary{}, ErrNotFound
	}
	return r, nil
}

// ListRuns returns the newest runs first.
func (m *Memory) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.RunSummary{}
	for i := len(m.runIDs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.runIDs[i]])
	}
	return out, nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, runID string, rm opt.RunMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.planMx[runID]
	for i := range items {
		if items[i].Strategy == rm.Strategy {
			items[i] = rm
			return nil
		}
	}
	m.planMx[runID] = append(items, rm)
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, runID, strategy string) ([]opt.RunMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []opt.RunMetrics{}
	for _, it := range m.planMx[runID] {
		if strategy == "" || it.Strategy == strategy {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) SavePlanMetricsWeights(ctx context.Context, runID, strategy string, snaps []opt.WeightSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := runID + "/" + strategy
	m.weights[key] = append(m.weights[key], snaps...)
	return nil
}

func (m *Memory) ListPlanMetricsWeights(ctx context.Context, runID, strategy string) ([]opt.WeightSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]opt.WeightSnapshot{}, m.weights[runID+"/"+strategy]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[dk]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{ID: id, RunID: runID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: time.Now()}
	m.deliveryIDs = append(m.deliveryIDs, id)
	m.dedup[dk] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(1 * time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, runID string) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		if d := m.deliveries[id]; runID == "" || d.RunID == runID {
			out = append(out, *d)
		}
	}
	return out, nil
}
