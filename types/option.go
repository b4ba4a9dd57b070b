package types

import (
	"context"

	"github.com/mcuadros/go-defaults"
)

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type EngineOptions struct {
	// Ctx is the context runs execute under when Execute is handed a nil
	// one.
	Ctx context.Context
	/**
	 * default: 8
	 * upper bound on tasks executing concurrently.
	 */
	MaxWorkers int `default:"8"`
	/**
	 * default: fail-fast (0). See FailurePolicy.
	 */
	FailurePolicy FailurePolicy `default:"0"`
	/**
	 * default: true. When false, eligible tasks run one by one on the
	 * coordinating goroutine instead of the worker pool. Only useful for
	 * debugging and deterministic tests.
	 */
	TaskRunAsync bool `default:"true"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// PostgreSQL store configuration.
	// If both MemStore and PostgresConfig are set, PostgresConfig takes precedence.
	PostgresConfig *PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type EngineOption func(*EngineOptions)

func WithContext(ctx context.Context) EngineOption {
	return func(opts *EngineOptions) {
		opts.Ctx = ctx
	}
}

func SetMaxWorkers(workers int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxWorkers = workers
	}
}

func WithFailurePolicy(policy FailurePolicy) EngineOption {
	return func(opts *EngineOptions) {
		opts.FailurePolicy = policy
	}
}

func ContinueOnFailureMode() EngineOption {
	return WithFailurePolicy(ContinueOnFailure)
}

func DisableTaskRunAsync() EngineOption {
	return func(opts *EngineOptions) {
		opts.TaskRunAsync = false
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the engine to persist run records in PostgreSQL
func WithPostgresConfig(config *PostgresConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.PostgresConfig = config
	}
}
