package model

import "time"

// Wire types for the planning API and the CLI instance files.

type Location struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Window is a clock range on one horizon day ("HH:MM").
type Window struct {
	Day   int    `json:"day" yaml:"day"`
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

type Disincentive struct {
	Kind      string  `json:"kind" yaml:"kind"`
	Value     float64 `json:"value" yaml:"value"`
	GraceDays int     `json:"graceDays" yaml:"graceDays"`
}

type CustomerIn struct {
	ID                  string        `json:"id" yaml:"id"`
	Location            Location      `json:"location" yaml:"location"`
	Kind                string        `json:"kind" yaml:"kind"`
	DurationMinutes     int           `json:"durationMinutes" yaml:"durationMinutes"`
	IncentiveMultiplier float64       `json:"incentiveMultiplier,omitempty" yaml:"incentiveMultiplier"`
	Disincentive        *Disincentive `json:"disincentive,omitempty" yaml:"disincentive"`
	// RequestedOn is a YYYY-MM-DD date; empty means the first horizon day.
	RequestedOn  string   `json:"requestedOn,omitempty" yaml:"requestedOn"`
	Availability []Window `json:"availability,omitempty" yaml:"availability"`
}

type ContractorIn struct {
	ID            string   `json:"id" yaml:"id"`
	Home          Location `json:"home" yaml:"home"`
	RatePerMinute float64  `json:"ratePerMinute" yaml:"ratePerMinute"`
	// Blocked windows are reserved before planning starts.
	Blocked []Window `json:"blocked,omitempty" yaml:"blocked"`
}

type PlanRequest struct {
	Customers      []CustomerIn   `json:"customers" yaml:"customers"`
	Contractors    []ContractorIn `json:"contractors" yaml:"contractors"`
	Optimize       *bool          `json:"optimize,omitempty" yaml:"optimize"`
	TimeBudgetMs   int            `json:"timeBudgetMs,omitempty" yaml:"timeBudgetMs"`
	Seed           *int64         `json:"seed,omitempty" yaml:"seed"`
	CallbackURL    string         `json:"callbackUrl,omitempty" yaml:"callbackUrl"`
	CallbackSecret string         `json:"callbackSecret,omitempty" yaml:"callbackSecret"`
}

type AssignmentOut struct {
	CustomerID    string    `json:"customerId"`
	ContractorID  string    `json:"contractorId"`
	Day           int       `json:"day"`
	TravelStart   time.Time `json:"travelStart"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	TravelMinutes float64   `json:"travelMinutes"`
	Charge        float64   `json:"charge"`
	Cost          float64   `json:"cost"`
	Profit        float64   `json:"profit"`
}

type DayOut struct {
	Day         int             `json:"day"`
	Date        string          `json:"date"`
	Assignments []AssignmentOut `json:"assignments"`
}

type ScheduleOut struct {
	Strategy    string   `json:"strategy"`
	Status      string   `json:"status"`
	Scheduled   int      `json:"scheduled"`
	Total       int      `json:"total"`
	Profit      float64  `json:"profit"`
	Days        []DayOut `json:"days"`
	Unscheduled []string `json:"unscheduled"`
}

type PlanResponse struct {
	RunID          string       `json:"runId"`
	CreatedAt      time.Time    `json:"createdAt"`
	Chosen         string       `json:"chosen"`
	Greedy         ScheduleOut  `json:"greedy"`
	Optimized      *ScheduleOut `json:"optimized,omitempty"`
	SolverStatus   string       `json:"solverStatus,omitempty"`
	Fallback       bool         `json:"fallback,omitempty"`
	FallbackReason string       `json:"fallbackReason,omitempty"`
}

// StepOut is one frame of the greedy trace stream.
type StepOut struct {
	Type         string       `json:"type"` // step | summary | error
	Seq          int          `json:"seq"`
	Phase        string       `json:"phase,omitempty"`
	Day          int          `json:"day"`
	CustomerIdx  int          `json:"customerIndex"`
	CustomerID   string       `json:"customerId,omitempty"`
	ContractorID string       `json:"contractorId,omitempty"`
	Start        *time.Time   `json:"start,omitempty"`
	End          *time.Time   `json:"end,omitempty"`
	Note         string       `json:"note,omitempty"`
	Schedule     *ScheduleOut `json:"schedule,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// RunSummary is what the store keeps per planning run.
type RunSummary struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"createdAt"`
	Customers          int       `json:"customers"`
	Contractors        int       `json:"contractors"`
	Chosen             string    `json:"chosen"`
	GreedyScheduled    int       `json:"greedyScheduled"`
	GreedyProfit       float64   `json:"greedyProfit"`
	OptimizedScheduled *int      `json:"optimizedScheduled,omitempty"`
	OptimizedProfit    *float64  `json:"optimizedProfit,omitempty"`
	SolverStatus       string    `json:"solverStatus,omitempty"`
	Fallback           bool      `json:"fallback"`
	DurationMs         int64     `json:"durationMs"`
}
