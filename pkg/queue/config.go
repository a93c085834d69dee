package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default flow control values
const (
	DefaultCeiling             = 100
	DefaultReportInterval      = 100
	DefaultRecountInterval     = 10
	DefaultPacingDelay         = 10 * time.Millisecond
	DefaultSessionTimeout      = 300 * time.Second
	DefaultDrainPollInterval   = 1 * time.Second
	DefaultCancelDrainAttempts = 5
	DefaultCancelFlushTimeout  = 5 * time.Second
)

// Config holds the flow control settings for a FlowPublisher.
type Config struct {
	Ceiling             int            `env:"PUBLISH_CEILING"               envDefault:"100"`   // In-flight count at which submission pauses
	ReportInterval      int            `env:"PUBLISH_REPORT_INTERVAL"       envDefault:"100"`   // Submissions between progress lines
	RecountInterval     int            `env:"PUBLISH_RECOUNT_INTERVAL"      envDefault:"10"`    // Submissions between forced Outstanding probes
	PacingDelay         *time.Duration `env:"PUBLISH_PACING_DELAY"          envDefault:"10ms"`  // Pause after each submission
	SessionTimeout      *time.Duration `env:"PUBLISH_SESSION_TIMEOUT"       envDefault:"300s"`  // Timeout passed to each Flush
	DrainPollInterval   *time.Duration `env:"PUBLISH_DRAIN_POLL_INTERVAL"   envDefault:"1s"`    // Pause between drain attempts
	CancelDrainAttempts int            `env:"PUBLISH_CANCEL_DRAIN_ATTEMPTS" envDefault:"5"`     // Flush attempts after cancellation before giving up
	CancelFlushTimeout  *time.Duration `env:"PUBLISH_CANCEL_FLUSH_TIMEOUT"  envDefault:"5s"`    // Timeout of each flush after cancellation
	SkipLoadErrors      bool           `env:"PUBLISH_SKIP_INVALID"          envDefault:"false"` // Skip sources that fail to load instead of aborting
}

// LoadConfig loads the flow control configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse publish config: %w", err)
	}
	return cfg, nil
}

// WithDefaults returns a copy of the config with default values filled in for
// zero counts and nil durations. Explicit zero durations are kept.
// This method does not mutate the original config.
func (c Config) WithDefaults() Config {
	if c.Ceiling == 0 {
		c.Ceiling = DefaultCeiling
	}
	if c.ReportInterval == 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.RecountInterval == 0 {
		c.RecountInterval = DefaultRecountInterval
	}
	if c.PacingDelay == nil {
		d := DefaultPacingDelay
		c.PacingDelay = &d
	}
	if c.SessionTimeout == nil {
		d := DefaultSessionTimeout
		c.SessionTimeout = &d
	}
	if c.DrainPollInterval == nil {
		d := DefaultDrainPollInterval
		c.DrainPollInterval = &d
	}
	if c.CancelFlushTimeout == nil {
		d := DefaultCancelFlushTimeout
		c.CancelFlushTimeout = &d
	}
	return c
}

// Validate checks a config that has been through WithDefaults.
func (c Config) Validate() error {
	if c.Ceiling < 1 {
		return fmt.Errorf("ceiling must be > 0, got %d", c.Ceiling)
	}
	if c.ReportInterval < 1 {
		return fmt.Errorf("report interval must be > 0, got %d", c.ReportInterval)
	}
	if c.RecountInterval < 1 {
		return fmt.Errorf("recount interval must be > 0, got %d", c.RecountInterval)
	}
	if c.CancelDrainAttempts < 0 {
		return fmt.Errorf("cancel drain attempts must be >= 0, got %d", c.CancelDrainAttempts)
	}
	if c.PacingDelay == nil || c.SessionTimeout == nil || c.DrainPollInterval == nil || c.CancelFlushTimeout == nil {
		return errors.New("durations must be set, call WithDefaults first")
	}
	if *c.PacingDelay < 0 || *c.DrainPollInterval < 0 {
		return errors.New("pacing delay and drain poll interval must be >= 0")
	}
	if *c.SessionTimeout <= 0 || *c.CancelFlushTimeout <= 0 {
		return errors.New("session timeout and cancel flush timeout must be > 0")
	}
	return nil
}
