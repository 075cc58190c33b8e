// Package storage selects and opens a durable telemetry store.
package storage

import (
	"fmt"

	"github.com/shellquest/telemetry/pkg/analytics"
	"github.com/shellquest/telemetry/pkg/storage/postgres"
	"github.com/shellquest/telemetry/pkg/storage/sqlite"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config names the backend and its DSN. For sqlite the DSN is a file
// path (or ":memory:"); for postgres a connection string.
type Config struct {
	Driver string
	DSN    string
}

// Open opens the configured backend. An empty driver defaults to
// sqlite.
func Open(cfg Config) (analytics.Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return sqlite.Open(cfg.DSN)
	case DriverPostgres:
		return postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
