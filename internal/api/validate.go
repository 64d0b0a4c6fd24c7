package api

import (
	"fmt"
	"net/url"

	"errandplan/internal/model"
)

const (
	maxCustomers   = 2000
	maxContractors = 200
	maxBudgetMs    = 60_000
)

// validatePlanRequest checks the document shape; the planner checks the
// domain rules.
func validatePlanRequest(req *model.PlanRequest) error {
	if len(req.Contractors) == 0 {
		return fmt.Errorf("at least one contractor is required")
	}
	if len(req.Customers) > maxCustomers {
		return fmt.Errorf("at most %d customers per request", maxCustomers)
	}
	if len(req.Contractors) > maxContractors {
		return fmt.Errorf("at most %d contractors per request", maxContractors)
	}
	for i, c := range req.Customers {
		if c.ID == "" {
			return fmt.Errorf("customers[%d].id is required", i)
		}
		if c.DurationMinutes <= 0 {
			return fmt.Errorf("customers[%d].durationMinutes must be > 0", i)
		}
	}
	for i, k := range req.Contractors {
		if k.ID == "" {
			return fmt.Errorf("contractors[%d].id is required", i)
		}
		if k.RatePerMinute < 0 {
			return fmt.Errorf("contractors[%d].ratePerMinute must be >= 0", i)
		}
	}
	if req.TimeBudgetMs < 0 || req.TimeBudgetMs > maxBudgetMs {
		return fmt.Errorf("timeBudgetMs must be in [0, %d]", maxBudgetMs)
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("callbackUrl must be an absolute http(s) URL")
		}
	} else if req.CallbackSecret != "" {
		return fmt.Errorf("callbackSecret given without callbackUrl")
	}
	return nil
}
