package config

import "time"

// OutboxConfig controls the outbox dispatcher and janitor.
type OutboxConfig struct {
	// PollIdle is the max time without a notification before the dispatcher
	// forces a backlog scan.
	PollIdle time.Duration `yaml:"poll_idle"`

	// BacklogPageSize is the page size for backlog drains and the operator
	// backlog endpoint.
	BacklogPageSize int `yaml:"backlog_page_size"`

	// GCInterval is how often the janitor deletes SENT rows.
	GCInterval time.Duration `yaml:"gc_interval"`

	// PublishConfirmTimeout is the per-publish broker confirm deadline.
	PublishConfirmTimeout time.Duration `yaml:"publish_confirm_timeout"`

	// Exponential backoff parameters for publish/mark retries.
	RetryInitial    time.Duration `yaml:"retry_initial"`
	RetryMax        time.Duration `yaml:"retry_max"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`
}

// DefaultOutboxConfig returns the built-in outbox defaults.
func DefaultOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		PollIdle:              30 * time.Second,
		BacklogPageSize:       100,
		GCInterval:            60 * time.Second,
		PublishConfirmTimeout: 5 * time.Second,
		RetryInitial:          500 * time.Millisecond,
		RetryMax:              30 * time.Second,
		RetryMultiplier:       2.0,
	}
}
