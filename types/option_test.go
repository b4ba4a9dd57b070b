package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := NewEngineOptions()

	assert.Equal(t, 8, opts.MaxWorkers)
	assert.Equal(t, FailFast, opts.FailurePolicy)
	assert.True(t, opts.TaskRunAsync)
	assert.False(t, opts.MemStore)
	assert.Nil(t, opts.PostgresConfig)
}

func TestWithPostgresConfig(t *testing.T) {
	config := &PostgresConfig{
		Host:     "dbhost",
		Port:     5433,
		User:     "user",
		Password: "pass",
		Database: "db",
		SSLMode:  "require",
	}

	opts := NewEngineOptions()
	WithPostgresConfig(config)(opts)

	assert.NotNil(t, opts.PostgresConfig)
	assert.Equal(t, "dbhost", opts.PostgresConfig.Host)
	assert.Equal(t, 5433, opts.PostgresConfig.Port)
	assert.Equal(t, "require", opts.PostgresConfig.SSLMode)
}

func TestMultipleOptions(t *testing.T) {
	opts := NewEngineOptions()

	SetMaxWorkers(50)(opts)
	ContinueOnFailureMode()(opts)
	DisableTaskRunAsync()(opts)
	EnableMemStore()(opts)

	assert.Equal(t, 50, opts.MaxWorkers)
	assert.Equal(t, ContinueOnFailure, opts.FailurePolicy)
	assert.False(t, opts.TaskRunAsync)
	assert.True(t, opts.MemStore)
}

func TestFailurePolicyString(t *testing.T) {
	assert.Equal(t, "fail-fast", FailFast.String())
	assert.Equal(t, "continue", ContinueOnFailure.String())
}
