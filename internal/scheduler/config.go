package scheduler

import (
	"time"

	"github.com/smallbiznis/memberhub/internal/config"
)

// Config controls job schedules and batch sizes.
type Config struct {
	ExpireOrdersSpec      string
	ExpireMembershipsSpec string
	BatchSize             int
	LockTTL               time.Duration
	JobTimeout            time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExpireOrdersSpec:      "@every 5m",
		ExpireMembershipsSpec: "0 15 0 * * *",
		BatchSize:             200,
		LockTTL:               2 * time.Minute,
		JobTimeout:            time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		ExpireOrdersSpec:      cfg.Jobs.ExpireOrdersSpec,
		ExpireMembershipsSpec: cfg.Jobs.ExpireMembershipsSpec,
		BatchSize:             cfg.Jobs.BatchSize,
		LockTTL:               cfg.Jobs.LockTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ExpireOrdersSpec == "" {
		c.ExpireOrdersSpec = defaults.ExpireOrdersSpec
	}
	if c.ExpireMembershipsSpec == "" {
		c.ExpireMembershipsSpec = defaults.ExpireMembershipsSpec
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	// a lock that outlives the job deadline would block the next tick
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}
