package warehouse

import (
	"context"

	"github.com/rotisserie/eris"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open returns the Store for driver.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case DriverPostgres, "":
		if dsn == "" {
			return nil, eris.New("warehouse: postgres requires a database URL")
		}
		return NewPostgres(ctx, dsn, poolCfg)
	case DriverSQLite:
		if dsn == "" {
			return nil, eris.New("warehouse: sqlite requires a database path")
		}
		return NewSQLite(dsn)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("warehouse: unknown driver %q", driver)
	}
}
