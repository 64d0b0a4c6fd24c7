package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"errandplan/internal/model"
	"errandplan/internal/opt"
)

// Postgres keeps runs, plan metrics and the webhook queue in PostgreSQL via
// the pgx database/sql driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS plan_runs (
  id                  uuid PRIMARY KEY,
  created_at          timestamptz NOT NULL,
  customers           int NOT NULL,
  contractors         int NOT NULL,
  chosen              text NOT NULL,
  greedy_scheduled    int NOT NULL,
  greedy_profit       double precision NOT NULL,
  optimized_scheduled int,
  optimized_profit    double precision,
  solver_status       text,
  fallback            boolean NOT NULL DEFAULT false,
  duration_ms         bigint NOT NULL
);
CREATE INDEX IF NOT EXISTS plan_runs_created_at ON plan_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS plan_metrics (
  run_id     uuid NOT NULL,
  strategy   text NOT NULL,
  status     text NOT NULL,
  scheduled  int NOT NULL,
  total      int NOT NULL,
  profit     double precision NOT NULL,
  elapsed_ms bigint NOT NULL,
  search     jsonb,
  created_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (run_id, strategy)
);

CREATE TABLE IF NOT EXISTS plan_metrics_weights (
  id            uuid PRIMARY KEY,
  run_id        uuid NOT NULL,
  strategy      text NOT NULL,
  iteration     int NOT NULL,
  move_weights  jsonb NOT NULL,
  place_weights jsonb NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
  id              uuid PRIMARY KEY,
  run_id          text NOT NULL,
  event_type      text NOT NULL,
  url             text NOT NULL,
  secret          text,
  payload         jsonb NOT NULL,
  status          text NOT NULL,
  attempts        int NOT NULL DEFAULT 0,
  next_attempt_at timestamptz NOT NULL DEFAULT now(),
  last_error      text,
  response_code   int,
  latency_ms      int,
  dedup_key       text NOT NULL,
  delivered_at    timestamptz,
  created_at      timestamptz NOT NULL DEFAULT now(),
  updated_at      timestamptz NOT NULL DEFAULT now(),
  UNIQUE (event_type, url, dedup_key)
);
`

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) SaveRun(ctx context.Context, r model.RunSummary) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO plan_runs (id, created_at, customers, contractors, chosen, greedy_scheduled, greedy_profit, optimized_scheduled, optimized_profit, solver_status, fallback, duration_ms)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (id) DO UPDATE SET chosen=$5, greedy_scheduled=$6, greedy_profit=$7, optimized_scheduled=$8, optimized_profit=$9, solver_status=$10, fallback=$11, duration_ms=$12`,
		r.ID, r.CreatedAt, r.Customers, r.Contractors, r.Chosen, r.GreedyScheduled, r.GreedyProfit,
		r.OptimizedScheduled, r.OptimizedProfit, nullIfEmpty(r.SolverStatus), r.Fallback, r.DurationMs)
	return err
}

const runColumns = `id::text, created_at, customers, contractors, chosen, greedy_scheduled, greedy_profit, optimized_scheduled, optimized_profit, COALESCE(solver_status,''), fallback, duration_ms`

type scanner interface{ Scan(dest ...any) error }

func scanRun(row scanner) (model.RunSummary, error) {
	var r model.RunSummary
	var optScheduled sql.NullInt64
	var optProfit sql.NullFloat64
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Customers, &r.Contractors, &r.Chosen, &r.GreedyScheduled, &r.GreedyProfit,
		&optScheduled, &optProfit, &r.SolverStatus, &r.Fallback, &r.DurationMs); err != nil {
		return model.RunSummary{}, err
	}
	if optScheduled.Valid {
		n := int(optScheduled.Int64)
		r.OptimizedScheduled = &n
	}
	if optProfit.Valid {
		v := optProfit.Float64
		r.OptimizedProfit = &v
	}
	return r, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.RunSummary, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.RunSummary{}, ErrNotFound
	}
	r, err := scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM plan_runs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunSummary{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+runColumns+` FROM plan_runs ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RunSummary{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, runID string, m opt.RunMetrics) error {
	var search any
	if m.Search != nil {
		b, err := json.Marshal(m.Search)
		if err != nil {
			return fmt.Errorf("store: encode search metrics: %w", err)
		}
		search = b
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO plan_metrics (run_id, strategy, status, scheduled, total, profit, elapsed_ms, search)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (run_id, strategy) DO UPDATE SET
          status=$3, scheduled=$4, total=$5, profit=$6, elapsed_ms=$7, search=$8, created_at=now()`,
		runID, m.Strategy, m.Status, m.Scheduled, m.Total, m.Profit, m.ElapsedMs, search)
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, runID, strategy string) ([]opt.RunMetrics, error) {
	base := `SELECT strategy, status, scheduled, total, profit, elapsed_ms, search FROM plan_metrics WHERE run_id=$1`
	args := []any{runID}
	if strategy != "" {
		base += ` AND strategy=$2`
		args = append(args, strategy)
	}
	rows, err := p.db.QueryContext(ctx, base+` ORDER BY strategy`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.RunMetrics{}
	for rows.Next() {
		var m opt.RunMetrics
		var search []byte
		if err := rows.Scan(&m.Strategy, &m.Status, &m.Scheduled, &m.Total, &m.Profit, &m.ElapsedMs, &search); err != nil {
			return nil, err
		}
		if len(search) > 0 {
			m.Search = &opt.SearchMetrics{}
			if err := json.Unmarshal(search, m.Search); err != nil {
				return nil, fmt.Errorf("store: decode search metrics: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePlanMetricsWeights(ctx context.Context, runID, strategy string, snaps []opt.WeightSnapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, s := range snaps {
		mv, _ := json.Marshal(s.Move)
		pl, _ := json.Marshal(s.Place)
		_, err := tx.ExecContext(ctx, `INSERT INTO plan_metrics_weights (id, run_id, strategy, iteration, move_weights, place_weights)
            VALUES ($1,$2,$3,$4,$5,$6)`, uuid.New().String(), runID, strategy, s.Iteration, mv, pl)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListPlanMetricsWeights(ctx context.Context, runID, strategy string) ([]opt.WeightSnapshot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT iteration, move_weights, place_weights FROM plan_metrics_weights WHERE run_id=$1 AND strategy=$2 ORDER BY iteration`, runID, strategy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.WeightSnapshot{}
	for rows.Next() {
		var s opt.WeightSnapshot
		var mv, pl []byte
		if err := rows.Scan(&s.Iteration, &mv, &pl); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(mv, &s.Move)
		_ = json.Unmarshal(pl, &s.Place)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, run_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, runID, eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id::text, run_id, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)`

func scanDelivery(row scanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	err := row.Scan(&d.ID, &d.RunID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs)
	return d, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+`
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`,
			nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, runID string) ([]WebhookDelivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries`
	args := []any{}
	if runID != "" {
		q += ` WHERE run_id=$1`
		args = append(args, runID)
	}
	rows, err := p.db.QueryContext(ctx, q+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
