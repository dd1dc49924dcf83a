package worker

import "time"

// Config controls the inbox polling loop.
type Config struct {
	BatchSize     int
	PollInterval  time.Duration
	RunTimeout    time.Duration
	RecordTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     25,
		PollInterval:  5 * time.Second,
		RunTimeout:    2 * time.Minute,
		RecordTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = defaults.RecordTimeout
	}
	return c
}
