// Package config loads the service configuration: an optional .env file, a
// YAML file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"errandplan/internal/calendar"
	"errandplan/internal/charge"
	"errandplan/internal/errand"
	"errandplan/internal/geo"
)

var ErrInvalid = errors.New("invalid configuration")

const dateLayout = "2006-01-02"

// Clock is a time of day written as "HH:MM".
type Clock time.Duration

func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("config: clock %q: want HH:MM: %w", s, ErrInvalid)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("config: clock %q: want HH:MM: %w", s, ErrInvalid)
	}
	return Clock(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

func (c Clock) String() string {
	d := time.Duration(c)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

func (c *Clock) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseClock(n.Value)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Clock) MarshalYAML() (any, error) { return c.String(), nil }

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Duration accepts Go duration strings ("2s", "500ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", n.Value, ErrInvalid)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

type Scheduling struct {
	// StartDate is the first day of the horizon (YYYY-MM-DD, UTC). Empty
	// means the day after loading.
	StartDate          string `yaml:"startDate" json:"startDate"`
	Days               int    `yaml:"days" json:"days"`
	WorkStart          Clock  `yaml:"workStart" json:"workStart"`
	WorkEnd            Clock  `yaml:"workEnd" json:"workEnd"`
	GranularityMinutes int    `yaml:"granularityMinutes" json:"granularityMinutes"`
}

type Pricing struct {
	Rates        map[string]float64 `yaml:"rates" json:"rates"`
	IncentiveCap float64            `yaml:"incentiveCap" json:"incentiveCap"`
}

type Network struct {
	BlockSize      int     `yaml:"blockSize" json:"blockSize"`
	UnitsPerMinute float64 `yaml:"unitsPerMinute" json:"unitsPerMinute"`
}

type Solver struct {
	Optimize   bool     `yaml:"optimize" json:"optimize"`
	TimeBudget Duration `yaml:"timeBudget" json:"timeBudget"`
	Seed       int64    `yaml:"seed" json:"seed"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

type Webhooks struct {
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`
}

// Config is passed explicitly to every constructor that needs it.
type Config struct {
	Port        string     `yaml:"port" json:"port"`
	DatabaseURL string     `yaml:"databaseUrl" json:"-"`
	Migrate     bool       `yaml:"migrate" json:"migrate"`
	RedisURL    string     `yaml:"redisUrl" json:"-"`
	RetainRuns  int        `yaml:"retainRuns" json:"retainRuns"`
	Scheduling  Scheduling `yaml:"scheduling" json:"scheduling"`
	Pricing     Pricing    `yaml:"pricing" json:"pricing"`
	Network     Network    `yaml:"network" json:"network"`
	Solver      Solver     `yaml:"solver" json:"solver"`
	RateLimit   RateLimit  `yaml:"rateLimit" json:"rateLimit"`
	Webhooks    Webhooks   `yaml:"webhooks" json:"webhooks"`
}

func Default() Config {
	rates := map[string]float64{}
	for k, v := range charge.DefaultConfig().Rates {
		rates[string(k)] = v
	}
	return Config{
		Port:       "8080",
		Migrate:    true,
		RetainRuns: 100,
		Scheduling: Scheduling{
			Days:               5,
			WorkStart:          Clock(8 * time.Hour),
			WorkEnd:            Clock(17 * time.Hour),
			GranularityMinutes: 30,
		},
		Pricing: Pricing{Rates: rates, IncentiveCap: charge.DefaultConfig().IncentiveCap},
		Network: Network{BlockSize: geo.DefaultNetwork.BlockSize, UnitsPerMinute: geo.DefaultNetwork.UnitsPerMinute},
		Solver:  Solver{Optimize: true, TimeBudget: Duration(2 * time.Second), Seed: 1},
		RateLimit: RateLimit{
			RPS:   20,
			Burst: 40,
		},
		Webhooks: Webhooks{MaxAttempts: 8},
	}
}

// Load reads .env (if present), then the YAML file at path (CONFIG_FILE or
// config.yaml when empty; a missing file leaves the defaults), then the
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()
	if path == "" {
		path = getEnv("CONFIG_FILE", "config.yaml")
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if cfg.Scheduling.StartDate == "" {
		cfg.Scheduling.StartDate = time.Now().UTC().AddDate(0, 0, 1).Format(dateLayout)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: DB_MIGRATE=%q: %w", v, ErrInvalid)
		}
		c.Migrate = b
	}
	if v := os.Getenv("SOLVER_TIME_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SOLVER_TIME_BUDGET=%q: %w", v, ErrInvalid)
		}
		c.Solver.TimeBudget = Duration(d)
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RATE_RPS=%q: %w", v, ErrInvalid)
		}
		c.RateLimit.RPS = f
	}
	if err := envInt("RATE_BURST", &c.RateLimit.Burst); err != nil {
		return err
	}
	return envInt("WEBHOOK_MAX_ATTEMPTS", &c.Webhooks.MaxAttempts)
}

// Validate fails fast on anything the scheduling core would reject later.
func (c Config) Validate() error {
	s := c.Scheduling
	if _, err := time.Parse(dateLayout, s.StartDate); s.StartDate != "" && err != nil {
		return fmt.Errorf("config: startDate %q: %w", s.StartDate, ErrInvalid)
	}
	if s.Days <= 0 {
		return fmt.Errorf("config: days must be positive: %w", ErrInvalid)
	}
	if s.GranularityMinutes <= 0 {
		return fmt.Errorf("config: granularityMinutes must be positive: %w", ErrInvalid)
	}
	if err := c.Hours().Validate(); err != nil {
		return fmt.Errorf("config: %v: %w", err, ErrInvalid)
	}
	if _, err := c.Charge(); err != nil {
		return fmt.Errorf("config: %v: %w", err, ErrInvalid)
	}
	if c.Network.BlockSize <= 0 || c.Network.UnitsPerMinute <= 0 {
		return fmt.Errorf("config: network block size and speed must be positive: %w", ErrInvalid)
	}
	if c.Solver.TimeBudget <= 0 {
		return fmt.Errorf("config: solver time budget must be positive: %w", ErrInvalid)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit must be >= 0: %w", ErrInvalid)
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("config: webhook max attempts must be positive: %w", ErrInvalid)
	}
	return nil
}

func (c Config) Hours() calendar.Hours {
	return calendar.Hours{Start: time.Duration(c.Scheduling.WorkStart), End: time.Duration(c.Scheduling.WorkEnd)}
}

func (c Config) Granularity() time.Duration {
	return time.Duration(c.Scheduling.GranularityMinutes) * time.Minute
}

// Origin is midnight UTC of the first horizon day.
func (c Config) Origin() time.Time {
	t, err := time.Parse(dateLayout, c.Scheduling.StartDate)
	if err != nil {
		return time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	}
	return t
}

func (c Config) GeoNetwork() geo.Network {
	return geo.Network{BlockSize: c.Network.BlockSize, UnitsPerMinute: c.Network.UnitsPerMinute}
}

// Charge converts the rate table to the pricing model's configuration.
func (c Config) Charge() (charge.Config, error) {
	rates := make(map[errand.Kind]float64, len(c.Pricing.Rates))
	for name, r := range c.Pricing.Rates {
		k, err := errand.ParseKind(name)
		if err != nil {
			return charge.Config{}, err
		}
		rates[k] = r
	}
	cc := charge.Config{Rates: rates, IncentiveCap: c.Pricing.IncentiveCap}
	return cc, cc.Validate()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", key, v, ErrInvalid)
	}
	*dst = n
	return nil
}
