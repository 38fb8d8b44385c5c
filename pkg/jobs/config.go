package jobs

import (
	"os"
	"strconv"
	"time"
)

// JobConfig controls solve queue and worker behavior.
type JobConfig struct {
	Concurrency   int           // Max concurrent workers. Default 3.
	MaxRetries    int           // Max retry attempts per job. Default 3.
	PollInterval  time.Duration // How often workers poll for new jobs. Default 5s.
	ClaimTimeout  time.Duration // Max time a job can be in "running" before considered stuck. Default 10m.
	RetentionDays int           // How long to keep terminal jobs. Default 7.
	SolverURL     string        // Endpoint solve requests are posted to. No default.
	SolverTimeout time.Duration // Upper bound on a single solve call. Default 5m.
	Enabled       bool          // Whether the job system is active. Default true.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:   3,
		MaxRetries:    3,
		PollInterval:  5 * time.Second,
		ClaimTimeout:  10 * time.Minute,
		RetentionDays: 7,
		SolverTimeout: 5 * time.Minute,
		Enabled:       true,
	}
}

// JobConfigFromEnv loads config from environment variables.
// PLANHUB_JOBS_CONCURRENCY, PLANHUB_JOBS_MAX_RETRIES, PLANHUB_JOBS_POLL_INTERVAL_SECONDS,
// PLANHUB_JOBS_CLAIM_TIMEOUT_MINUTES, PLANHUB_JOBS_RETENTION_DAYS, PLANHUB_SOLVER_URL,
// PLANHUB_SOLVER_TIMEOUT_SECONDS, PLANHUB_JOBS_ENABLED
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()

	if v := os.Getenv("PLANHUB_JOBS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("PLANHUB_JOBS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("PLANHUB_JOBS_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("PLANHUB_JOBS_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("PLANHUB_JOBS_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("PLANHUB_SOLVER_URL"); v != "" {
		cfg.SolverURL = v
	}

	if v := os.Getenv("PLANHUB_SOLVER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SolverTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("PLANHUB_JOBS_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
