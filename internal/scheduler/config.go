package scheduler

import (
	"time"

	"github.com/smallbiznis/accessportal/internal/config"
)

// Config controls scheduler intervals and retention windows.
type Config struct {
	RunInterval    time.Duration
	JobTimeout     time.Duration
	LeaseTTL       time.Duration
	TokenRetention time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		JobTimeout:     30 * time.Second,
		LeaseTTL:       50 * time.Second,
		TokenRetention: 7 * 24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:    cfg.Scheduler.RunInterval,
		TokenRetention: cfg.Scheduler.TokenRetention,
		EnabledJobs:    cfg.Scheduler.Jobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.TokenRetention <= 0 {
		c.TokenRetention = defaults.TokenRetention
	}
	return c
}
