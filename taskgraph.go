package taskgraph

import (
	"github.com/juju/errors"
	"github.com/warriorguo/taskgraph/runtime"
	"github.com/warriorguo/taskgraph/store"
	"github.com/warriorguo/taskgraph/store/mem"
	"github.com/warriorguo/taskgraph/store/postgres"
	"github.com/warriorguo/taskgraph/types"
)

// NewEngine creates a new task execution engine with the given options
func NewEngine(opts ...types.EngineOption) (types.Engine, error) {
	options := types.NewEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	var s store.Store
	var err error

	// PostgresConfig takes precedence over MemStore
	if options.PostgresConfig != nil {
		pgConfig := &postgres.Config{
			Host:     options.PostgresConfig.Host,
			Port:     options.PostgresConfig.Port,
			User:     options.PostgresConfig.User,
			Password: options.PostgresConfig.Password,
			Database: options.PostgresConfig.Database,
			SSLMode:  options.PostgresConfig.SSLMode,
		}

		s, err = postgres.NewPostgresStore(pgConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
	} else {
		// default to the in-memory store
		s = mem.NewMemStore()
	}

	return runtime.NewEngine(s, options), nil
}
