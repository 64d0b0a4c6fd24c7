package opt

import "sync"

// RunMetrics summarizes one strategy of one planning run.
type RunMetrics struct {
	Strategy  string         `json:"strategy"`
	Status    string         `json:"status"`
	Scheduled int            `json:"scheduled"`
	Total     int            `json:"total"`
	Profit    float64        `json:"profit"`
	ElapsedMs int64          `json:"elapsedMs"`
	Search    *SearchMetrics `json:"search,omitempty"`
}

type metricsKey struct {
	RunID    string
	Strategy string
}

// MetricsStore keeps the latest metrics per (run, strategy) in memory.
type MetricsStore struct {
	mu    sync.Mutex
	store map[metricsKey]RunMetrics
}

func NewMetricsStore() *MetricsStore {
	return &MetricsStore{store: map[metricsKey]RunMetrics{}}
}

func (s *MetricsStore) Record(runID string, m RunMetrics) {
	s.mu.Lock()
	s.store[metricsKey{RunID: runID, Strategy: m.Strategy}] = m
	s.mu.Unlock()
}

// Get returns the metrics of one run keyed by strategy.
func (s *MetricsStore) Get(runID string) map[string]RunMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]RunMetrics{}
	for k, v := range s.store {
		if k.RunID == runID {
			out[k.Strategy] = v
		}
	}
	return out
}
