package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"errandplan/internal/config"
	"errandplan/internal/model"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduling.StartDate = "2024-03-04"
	cfg.Scheduling.Days = 2
	cfg.Solver.TimeBudget = config.Duration(300 * time.Millisecond)
	cfg.RateLimit.RPS = 0
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

const scenarioBody = `{
  "contractors": [
    {"id": "A", "home": {"x": 0, "y": 0}, "ratePerMinute": 0.1},
    {"id": "B", "home": {"x": 90, "y": 90}, "ratePerMinute": 0.1}
  ],
  "customers": [
    {"id": "c1", "location": {"x": 50, "y": 50}, "kind": "cleaning", "durationMinutes": 30},
    {"id": "c2", "location": {"x": 0, "y": 40}, "kind": "repair", "durationMinutes": 90}
  ]
}`

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version"`)
	rr = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCreatePlanAndFetch(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodPost, "/v1/plans", scenarioBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp model.PlanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	assert.Equal(t, "/v1/plans/"+resp.RunID, rr.Header().Get("Location"))
	assert.Equal(t, "2 of 2 customers scheduled", resp.Greedy.Status)
	assert.NotEmpty(t, resp.SolverStatus)
	assert.Contains(t, []string{"greedy", "optimized"}, resp.Chosen)

	rr = do(t, h, http.MethodGet, "/v1/plans/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var detail planDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, resp.RunID, detail.Summary.ID)
	require.NotNil(t, detail.Plan)
	assert.Equal(t, resp.Greedy.Profit, detail.Plan.Greedy.Profit)

	rr = do(t, h, http.MethodGet, "/v1/plans?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct{ Items []model.RunSummary }
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)

	rr = do(t, h, http.MethodGet, "/v1/plans/"+resp.RunID+"/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"strategy":"greedy"`)
	assert.Contains(t, rr.Body.String(), `"strategy":"optimized"`)

	rr = do(t, h, http.MethodGet, "/v1/plans/"+resp.RunID+"/metrics?strategy=magic", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/plans/"+resp.RunID+"/deliveries", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCreatePlanGreedyOnly(t *testing.T) {
	h := newTestServer(t).Handler()
	body := strings.Replace(scenarioBody, `"customers"`, `"optimize": false, "customers"`, 1)
	rr := do(t, h, http.MethodPost, "/v1/plans", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp model.PlanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Nil(t, resp.Optimized)
	assert.Empty(t, resp.SolverStatus)
	assert.Equal(t, "greedy", resp.Chosen)
}

func TestCreatePlanRejectsBadInput(t *testing.T) {
	h := newTestServer(t).Handler()
	cases := map[string]string{
		"bad json":      `{"contractors": [`,
		"unknown field": `{"contractors": [{"id": "A"}], "bogus": 1}`,
		"trailing":      `{"contractors": [{"id": "A"}]} {}`,
		"no contractor": `{"customers": []}`,
		"no duration":   `{"contractors": [{"id": "A"}], "customers": [{"id": "c", "kind": "repair"}]}`,
		"unknown kind":  `{"contractors": [{"id": "A"}], "customers": [{"id": "c", "kind": "juggling", "durationMinutes": 5}]}`,
		"off network":   `{"contractors": [{"id": "A"}], "customers": [{"id": "c", "kind": "repair", "durationMinutes": 5, "location": {"x": 3, "y": 7}}]}`,
		"budget":        `{"contractors": [{"id": "A"}], "timeBudgetMs": -1}`,
		"callback":      `{"contractors": [{"id": "A"}], "callbackUrl": "ftp://x"}`,
		"secret only":   `{"contractors": [{"id": "A"}], "callbackSecret": "s"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/plans", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			var p Problem
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Equal(t, http.StatusBadRequest, p.Status)
			assert.Equal(t, "/v1/plans", p.Instance)
		})
	}

	rr := do(t, h, http.MethodDelete, "/v1/plans", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPlanNotFound(t *testing.T) {
	h := newTestServer(t).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/plans/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/plans/", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/v1/plans/x", "").Code)
}

func TestConfigHandler(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.RedisURL = "" }).Handler()
	rr := do(t, h, http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "2024-03-04", out["horizonStart"])
	sched := out["config"].(map[string]any)["scheduling"].(map[string]any)
	assert.Equal(t, "08:00", sched["workStart"])
	assert.Equal(t, false, out["hasDatabaseUrl"])
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.RateLimit.RPS = 0.001
		c.RateLimit.Burst = 1
	}).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/config", "").Code)
	rr := do(t, h, http.MethodGet, "/v1/config", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	// probes are exempt
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	do(t, h, http.MethodGet, "/v1/plans/missing", "")
	rr := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `path="/v1/plans/{id}"`)
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: heartbeat\n", line)

	post, err := http.Post(ts.URL+"/v1/plans", "application/json", bytes.NewBufferString(scenarioBody))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusCreated, post.StatusCode)

	seen := map[string]bool{}
	for !seen["event: plan.greedy.completed"] {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		seen[strings.TrimSpace(line)] = true
	}
	assert.True(t, seen["event: plan.started"])
}

func TestTraceWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/trace", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var ack wsMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "connection_ack", ack.Type)

	body := strings.Replace(scenarioBody, `"customers"`, `"optimize": false, "customers"`, 1)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "start", ID: "1", Payload: json.RawMessage(body)}))

	var steps []model.StepOut
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "complete" {
			break
		}
		require.Equal(t, "next", msg.Type, string(msg.Payload))
		var st model.StepOut
		require.NoError(t, json.Unmarshal(msg.Payload, &st))
		steps = append(steps, st)
	}
	require.Greater(t, len(steps), 2)
	assert.Equal(t, "reset_contractor_locations", steps[0].Phase)
	last := steps[len(steps)-1]
	require.Equal(t, "summary", last.Type)
	require.NotNil(t, last.Schedule)

	rr := do(t, s.Handler(), http.MethodPost, "/v1/plans", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp model.PlanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, resp.Greedy.Days, last.Schedule.Days)
	assert.Equal(t, resp.Greedy.Profit, last.Schedule.Profit)

	// a bad document gets an error frame, then complete
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "start", ID: "2", Payload: json.RawMessage(`{"contractors": []}`)}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)
}

func TestOpenAPIDocument(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := do(t, h, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/plans:")

	rr = do(t, h, http.MethodGet, "/openapi.yaml?format=json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Contains(t, doc["paths"], "/v1/trace")

	rr = do(t, h, http.MethodGet, "/docs", "")
	assert.Contains(t, rr.Body.String(), `spec-url="/openapi.yaml"`)
}
