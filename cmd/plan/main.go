// Command plan runs one planning instance offline and prints the greedy and
// optimized schedules side by side.
//
//	plan -instance examples/week.yaml [-config config.yaml] [-budget 5s] [-json]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	yaml "gopkg.in/yaml.v3"

	"errandplan/internal/buildinfo"
	"errandplan/internal/config"
	"errandplan/internal/model"
	"errandplan/internal/planner"
	"errandplan/internal/store"
)

func main() {
	var (
		instance = flag.String("instance", "", "instance file (.yaml, .yml or .json)")
		cfgPath  = flag.String("config", "", "path to config.yaml (default $CONFIG_FILE or ./config.yaml)")
		optimize = flag.Bool("optimize", true, "run the optimizer after the greedy pass")
		budget   = flag.Duration("budget", 0, "solver time budget (default from config)")
		seed     = flag.Int64("seed", 0, "solver seed (default from config)")
		asJSON   = flag.Bool("json", false, "print the plan response as JSON")
		verbose  = flag.Bool("v", false, "log planner progress to stderr")
		version  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.String())
		return
	}
	if *instance == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	req, err := readInstance(*instance)
	if err != nil {
		fatalf("instance: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "optimize":
			req.Optimize = optimize
		case "budget":
			req.TimeBudgetMs = int(budget.Milliseconds())
		case "seed":
			req.Seed = seed
		}
	})
	// callbacks need the API's delivery worker
	req.CallbackURL, req.CallbackSecret = "", ""

	p, err := planner.New(cfg, store.NewMemory(), nil)
	if err != nil {
		fatalf("planner: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := p.Plan(ctx, req)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidRequest) {
			fatalf("invalid instance: %v", err)
		}
		fatalf("plan: %v", err)
	}
	resp := planner.Response(res)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fatalf("encode: %v", err)
		}
		return
	}
	printPlan(os.Stdout, resp)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "plan: "+format+"\n", args...)
	os.Exit(1)
}

func readInstance(path string) (model.PlanRequest, error) {
	var req model.PlanRequest
	b, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&req)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		err = dec.Decode(&req)
	}
	if err != nil {
		return req, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

func printPlan(w io.Writer, resp model.PlanResponse) {
	printSchedule(w, resp.Greedy, "")
	if resp.Optimized != nil {
		fmt.Fprintln(w)
		note := resp.SolverStatus
		if resp.Fallback {
			note += ", fell back: " + resp.FallbackReason
		}
		printSchedule(w, *resp.Optimized, note)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "greedy profit:    %10.2f\n", resp.Greedy.Profit)
	if resp.Optimized != nil {
		fmt.Fprintf(w, "optimized profit: %10.2f (%+.2f)\n", resp.Optimized.Profit, resp.Optimized.Profit-resp.Greedy.Profit)
	}
	fmt.Fprintf(w, "chosen: %s\n", resp.Chosen)
}

func printSchedule(w io.Writer, s model.ScheduleOut, note string) {
	head := fmt.Sprintf("== %s: %s", s.Strategy, s.Status)
	if note != "" {
		head += " [" + note + "]"
	}
	fmt.Fprintln(w, head)
	for _, d := range s.Days {
		fmt.Fprintf(w, "day %d (%s)\n", d.Day, d.Date)
		if len(d.Assignments) == 0 {
			fmt.Fprintln(w, "  -")
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  leave\tstart\tend\tcustomer\tcontractor\ttravel\tcharge\tcost\tprofit")
		for _, a := range d.Assignments {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%.0fm\t%.2f\t%.2f\t%.2f\n",
				clock(a.TravelStart), clock(a.Start), clock(a.End), a.CustomerID, a.ContractorID,
				a.TravelMinutes, a.Charge, a.Cost, a.Profit)
		}
		_ = tw.Flush()
	}
	if len(s.Unscheduled) > 0 {
		fmt.Fprintf(w, "unscheduled: %s\n", strings.Join(s.Unscheduled, ", "))
	}
	fmt.Fprintf(w, "profit: %.2f\n", s.Profit)
}

func clock(t time.Time) string { return t.Format("15:04") }
