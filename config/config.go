// Package config loads the service configuration from a YAML or JSON file
// with ERG_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/erg/auth"
	"github.com/kilianp07/erg/core/metrics"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/solver"
	"github.com/kilianp07/erg/core/tariff"
	"github.com/kilianp07/erg/infra/monitoring"
	"github.com/kilianp07/erg/infra/mqtt"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: ERG_SOLVER__URL sets solver.url.
const EnvPrefix = "ERG_"

type Config struct {
	Solver     SolverConfig     `json:"solver"`
	Schedule   ScheduleConfig   `json:"schedule"`
	System     solver.System    `json:"system"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	MQTT       mqtt.Config      `json:"mqtt"`
	HTTP       HTTPConfig       `json:"http"`
	Metrics    metrics.Config   `json:"metrics"`
	Tariffs    []tariff.Spec    `json:"tariffs"`
	Jobs       []model.JobPatch `json:"jobs"`

	Sentry monitoring.SentryConfig `json:"sentry"`
}

// SolverConfig locates the remote optimizer.
type SolverConfig struct {
	URL     string        `json:"url" validate:"required,url"`
	Token   string        `json:"token"`
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
	// OAuth enables client-credentials authentication instead of the
	// static token.
	OAuth auth.Conf `json:"oauth"`
}

// ScheduleConfig drives the horizon and the fetch loop.
type ScheduleConfig struct {
	SlotDuration     time.Duration `json:"slot_duration" validate:"gt=0"`
	Horizon          time.Duration `json:"horizon" validate:"gtefield=SlotDuration"`
	ExtendToEndOfDay bool          `json:"extend_to_end_of_day"`
	UpdateInterval   time.Duration `json:"update_interval" validate:"gt=0"`
	FetchTimeout     time.Duration `json:"fetch_timeout" validate:"gt=0"`
	StaleAfter       time.Duration `json:"stale_after" validate:"gte=0"`
	// RefreshInterval is the minimum spacing of manual refreshes.
	RefreshInterval time.Duration `json:"refresh_interval" validate:"gte=0"`
	RefreshBurst    int           `json:"refresh_burst" validate:"gte=1"`
	Timezone        string        `json:"timezone"`
}

// ReconcilerConfig drives the control loop.
type ReconcilerConfig struct {
	// Tick defaults to the slot duration.
	Tick           time.Duration `json:"tick" validate:"gt=0"`
	CommandTimeout time.Duration `json:"command_timeout" validate:"gt=0"`
	CommandGrace   time.Duration `json:"command_grace" validate:"gte=0"`
}

type HTTPConfig struct {
	Addr string `json:"addr" validate:"required"`
}

// Load reads path, applies the environment overrides and the defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills in every unset field.
func (c *Config) SetDefaults() {
	if c.Solver.Timeout == 0 {
		c.Solver.Timeout = 30 * time.Second
	}
	s := &c.Schedule
	if s.SlotDuration == 0 {
		s.SlotDuration = 15 * time.Minute
	}
	if s.Horizon == 0 {
		s.Horizon = 24 * time.Hour
	}
	if s.UpdateInterval == 0 {
		s.UpdateInterval = 15 * time.Minute
	}
	if s.FetchTimeout == 0 {
		s.FetchTimeout = c.Solver.Timeout
	}
	if s.StaleAfter == 0 {
		s.StaleAfter = 2 * s.UpdateInterval
	}
	if s.RefreshInterval == 0 {
		s.RefreshInterval = 10 * time.Second
	}
	if s.RefreshBurst == 0 {
		s.RefreshBurst = 1
	}
	r := &c.Reconciler
	if r.Tick == 0 {
		r.Tick = s.SlotDuration
	}
	if r.CommandTimeout == 0 {
		r.CommandTimeout = 10 * time.Second
	}
	if r.CommandGrace == 0 {
		r.CommandGrace = time.Minute
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	c.MQTT.SetDefaults()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct constraints and the cross-field rules the
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if day := 24 * time.Hour; day%c.Schedule.SlotDuration != 0 {
		return fmt.Errorf("invalid config: slot_duration %s does not divide a day", c.Schedule.SlotDuration)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := tariff.FromSpecs(c.Tariffs); err != nil {
		return fmt.Errorf("invalid config: tariffs: %w", err)
	}
	for i, p := range c.Jobs {
		if _, err := model.NewJob(p); err != nil {
			return fmt.Errorf("invalid config: job %d: %w", i+1, err)
		}
	}
	if c.MQTT.Broker == "" {
		return errors.New("invalid config: mqtt.broker is required")
	}
	switch c.MQTT.SoCUnit {
	case "%", "kWh":
	default:
		return fmt.Errorf("invalid config: mqtt.soc_unit %q: want %% or kWh", c.MQTT.SoCUnit)
	}
	return nil
}

// Location returns the configured time zone, the local zone by default.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}
