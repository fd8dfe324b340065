package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job queue worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeSweeper runs the stuck-pending sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains job queue worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of consumer goroutines per registered job type.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
}

// SweeperConfig contains stuck-pending sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`

	// PendingMaxAge is how long a job may sit pending before the sweeper
	// considers its broker enqueue lost and requeues it.
	PendingMaxAge time.Duration `env:"SWEEPER_PENDING_MAX_AGE" envDefault:"5m"`

	// BatchSize is the maximum number of jobs to requeue per sweep.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimums to prevent requeue storms against the broker
	if s.Interval < 10*time.Second {
		s.Interval = 10 * time.Second
	}
	if s.PendingMaxAge < 1*time.Minute {
		s.PendingMaxAge = 1 * time.Minute
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}

// QueueConfig contains broker queue configuration.
type QueueConfig struct {
	// KeyPrefix namespaces all Redis queue keys.
	KeyPrefix string `env:"QUEUE_KEY_PREFIX" envDefault:"procdoc:queue:"`

	// HistoryLimit caps the per-type delivery history list.
	HistoryLimit int64 `env:"QUEUE_HISTORY_LIMIT" envDefault:"200"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.HistoryLimit < 1 {
		q.HistoryLimit = 200
	}
}

// DocgenConfig contains documentation generator configuration.
type DocgenConfig struct {
	// APIKey is the OpenAI API key used for document generation.
	APIKey string `env:"OPENAI_API_KEY"`

	// Model is the chat-completion model to use.
	Model string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	// BaseURL overrides the OpenAI API endpoint (for proxies or compatible servers).
	BaseURL string `env:"OPENAI_BASE_URL" envDefault:""`
}
