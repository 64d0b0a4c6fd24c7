//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"errandplan/internal/model"
	"errandplan/internal/opt"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	id := uuid.New().String()
	profit := 12.5
	run := model.RunSummary{ID: id, CreatedAt: time.Now().UTC().Truncate(time.Millisecond), Customers: 2, Contractors: 1, Chosen: opt.StrategyOptimized, OptimizedProfit: &profit}
	if err := p.SaveRun(t.Context(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := p.GetRun(t.Context(), id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.OptimizedProfit == nil || *got.OptimizedProfit != profit {
		t.Fatalf("optimized profit: got %v", got.OptimizedProfit)
	}
	if err := p.SavePlanMetrics(t.Context(), id, opt.RunMetrics{Strategy: opt.StrategyOptimized, Status: "optimal", Search: &opt.SearchMetrics{Iterations: 7}}); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}
	ms, err := p.ListPlanMetrics(t.Context(), id, "")
	if err != nil || len(ms) != 1 || ms[0].Search == nil || ms[0].Search.Iterations != 7 {
		t.Fatalf("ListPlanMetrics: %v %+v", err, ms)
	}
	if _, err := p.GetRun(t.Context(), "not-a-uuid"); err != ErrNotFound {
		t.Fatalf("GetRun bad id: %v", err)
	}
}
