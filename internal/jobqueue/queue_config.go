/*
Package jobqueue configuration - All tunable parameters for the River job queue system.

# River Job Queue Configuration Guide

This file contains all configurable parameters for the session poll job queue.
Modify these values to tune performance, reliability, and behavior according to your needs.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher throughput (more threads polled concurrently)
- Adjust MaxRetries for different reliability vs. speed tradeoffs
- Modify retry intervals for faster/slower retry cycles

### Resource Management:
- Lower MaxWorkers to reduce database connection usage
- Adjust timeouts to prevent resource leaks
- Configure queue priorities if multiple job types are added

## Monitoring and Debugging:
- Job status can be monitored via River's built-in job tracking
- Failed jobs retain error information in the River jobs table
- Poll results land in the session_events table

## Database Requirements:
- PostgreSQL with River schema migrations applied
- Connection pool configured for concurrent workers
- session_checkpoints table as the source of pollable threads
*/
package jobqueue

import (
	"os"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 4)

	// Retry Configuration
	MaxRetries  int           // Maximum retry attempts per job (default: 10)
	RetryPolicy RetryPolicy   // Retry timing and backoff configuration
	JobTimeout  time.Duration // Maximum time a single job can run (default: 2 minutes)

	// PollInterval is how often the poller sweeps all known threads.
	PollInterval time.Duration // default: 30 seconds
}

// RetryPolicy defines how failed jobs are retried
type RetryPolicy struct {
	// InitialInterval is the time to wait before the first retry
	InitialInterval time.Duration // default: 1 second

	// MaxInterval is the maximum time to wait between retries
	MaxInterval time.Duration // default: 10 minutes

	// Multiplier is the factor by which the interval increases after each retry
	Multiplier float64 // default: 2.0 (exponential backoff)

	// MaxElapsedTime is the total time after which retries stop
	MaxElapsedTime time.Duration // default: 24 hours
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Worker settings - a poll is one cheap step, a handful of workers is plenty
		MaxWorkers: 4,

		MaxRetries: 10,
		RetryPolicy: RetryPolicy{
			InitialInterval: 1 * time.Second,
			MaxInterval:     10 * time.Minute,
			Multiplier:      2.0,
			MaxElapsedTime:  24 * time.Hour,
		},

		JobTimeout:   2 * time.Minute,
		PollInterval: 30 * time.Second,
	}
}

// ProductionQueueConfig returns a configuration optimized for production use
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 10
	config.JobTimeout = 5 * time.Minute
	config.RetryPolicy.MaxElapsedTime = 72 * time.Hour

	return config
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 2
	config.MaxRetries = 3
	config.RetryPolicy.MaxElapsedTime = 1 * time.Hour
	config.JobTimeout = 30 * time.Second
	config.PollInterval = 5 * time.Second

	return config
}

// GetQueueConfig returns the appropriate configuration based on environment
func GetQueueConfig() *QueueConfig {
	switch os.Getenv("SESSIOND_ENV") {
	case "production":
		return ProductionQueueConfig()
	case "development":
		return DevelopmentQueueConfig()
	}
	return DefaultQueueConfig()
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
		// Future: Add more queues here for different job types
	}
}
