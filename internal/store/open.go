package store

import (
	"context"
	"fmt"

	"bountyboard/internal/ledger"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the store named by driver. target is a file path for the file
// and sqlite drivers and a DSN for postgres. The returned closer is never nil.
func Open(ctx context.Context, driver, target string) (ledger.Store, func(), error) {
	noop := func() {}
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), noop, nil
	case DriverFile:
		s, err := NewFileStore(target)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case DriverSQLite:
		s, err := NewSQLiteStore(target)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, target)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", driver)
	}
}
