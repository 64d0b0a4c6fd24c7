// Package api serves the planning HTTP API: plan runs, run lookup, SSE
// events, the greedy trace WebSocket, docs and probes.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"errandplan/internal/config"
	"errandplan/internal/metrics"
	"errandplan/internal/planner"
	"errandplan/internal/store"
	"errandplan/internal/webhooks"
)

type Server struct {
	Config  config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Broker  EventBroker
	Planner *planner.Planner
	limiter *rate.Limiter
}

// NewServer wires the service from cfg. An empty DatabaseURL selects the
// in-memory store and an empty RedisURL the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := sp.Migrate(ctx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		s = sp
	}
	// Broker selection
	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
		}
	}
	pub := webhooks.NewPublisher(s)
	p, err := planner.New(cfg, s, pub)
	if err != nil {
		return nil, err
	}
	p.Notify = func(runID, eventType string, data map[string]any) { publishRun(broker, runID, eventType, data) }

	srv := &Server{Config: cfg, Store: s, Pub: pub, Broker: broker, Planner: p}
	if cfg.RateLimit.RPS > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	return srv, nil
}

// Handler returns the routed, logged and rate-limited API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Planning
	mux.HandleFunc("/v1/plans", s.PlansHandler)
	mux.HandleFunc("/v1/plans/", s.PlanByIDHandler) // includes /metrics, /deliveries
	mux.HandleFunc("/v1/events", s.EventsHandler)
	mux.HandleFunc("/v1/trace", s.TraceWSHandler)
	mux.HandleFunc("/v1/config", s.ConfigHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())

	// Docs
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return logMiddleware(rateLimit(s.limiter, mux))
}

// NewWebhookWorker creates a background worker for completion callbacks.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts)
}

// Close releases the store and broker connections.
func (s *Server) Close() {
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
