package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"errandplan/internal/buildinfo"
	"errandplan/internal/model"
	"errandplan/internal/opt"
	"errandplan/internal/planner"
	"errandplan/internal/store"
)

// PlansHandler handles POST /v1/plans (run) and GET /v1/plans (list).
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.PlanRequest
		if err := decodeJSON(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validatePlanRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), r.URL.Path)
			return
		}
		res, err := s.Planner.Plan(r.Context(), req)
		if err != nil {
			if errors.Is(err, planner.ErrInvalidRequest) {
				writeProblem(w, http.StatusBadRequest, "Invalid plan request", err.Error(), r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Planning failed", err.Error(), r.URL.Path)
			return
		}
		w.Header().Set("Location", "/v1/plans/"+res.RunID)
		writeJSON(w, http.StatusCreated, planner.Response(res))
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.Store.ListRuns(r.Context(), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.Header().Set("Allow", "GET, POST")
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
	}
}

type planDetail struct {
	Summary model.RunSummary    `json:"summary"`
	Plan    *model.PlanResponse `json:"plan,omitempty"`
}

// PlanByIDHandler handles /v1/plans/{id}, /v1/plans/{id}/metrics and
// /v1/plans/{id}/deliveries.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/plans/"), "/"), "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	sum, err := s.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Run not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Lookup failed", err.Error(), r.URL.Path)
		return
	}
	if len(parts) == 1 {
		out := planDetail{Summary: sum}
		if res, ok := s.Planner.Recent(id); ok {
			resp := planner.Response(res)
			out.Plan = &resp
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	switch parts[1] {
	case "metrics":
		s.planMetrics(w, r, id)
	case "deliveries":
		items, err := s.Store.ListWebhookDeliveries(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) planMetrics(w http.ResponseWriter, r *http.Request, runID string) {
	strategy := r.URL.Query().Get("strategy")
	if strategy != "" && strategy != opt.StrategyGreedy && strategy != opt.StrategyOptimized {
		writeProblem(w, http.StatusBadRequest, "Invalid strategy", strategy, r.URL.Path)
		return
	}
	items, err := s.Store.ListPlanMetrics(r.Context(), runID, strategy)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Metrics failed", err.Error(), r.URL.Path)
		return
	}
	if len(items) == 0 {
		for k, m := range s.Planner.RunMetrics(runID) {
			if strategy == "" || k == strategy {
				items = append(items, m)
			}
		}
	}
	weights, err := s.Store.ListPlanMetricsWeights(r.Context(), runID, opt.StrategyOptimized)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Metrics failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "weights": weights})
}

// EventsHandler streams run events as SSE: every run, or one run with ?runId=.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	topic := AllRuns
	if id := r.URL.Query().Get("runId"); id != "" {
		topic = id
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	hb, _ := json.Marshal(map[string]string{"topic": topic, "ts": time.Now().UTC().Format(time.RFC3339)})
	fmt.Fprintf(w, "event: heartbeat\ndata: %s\n\n", hb)
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, b)
			flusher.Flush()
		}
	}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
