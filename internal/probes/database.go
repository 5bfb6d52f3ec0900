package probes

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
)

// DatabaseProbe watches a sql connection pool
type DatabaseProbe struct {
	name string
	db   *sqlx.DB
	opts probeOptions

	mu            sync.Mutex
	sampled       bool
	lastWaitCount int64
}

// NewDatabaseProbe opens a pool for driver ("postgres" or "mysql"). The
// database does not have to be reachable yet; failures show up in samples.
func NewDatabaseProbe(name, driver, dsn string, opts ...Option) (*DatabaseProbe, error) {
	switch driver {
	case "postgres", "mysql":
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported database driver: %q", driver))
	}
	if dsn == "" {
		return nil, errors.NewValidationError("database DSN is required")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.NewInternalError("failed to open database").WithCause(err)
	}

	return NewDatabaseProbeFromDB(name, db, opts...), nil
}

// NewDatabaseProbeFromDB wraps an existing pool
func NewDatabaseProbeFromDB(name string, db *sqlx.DB, opts ...Option) *DatabaseProbe {
	return &DatabaseProbe{
		name: name,
		db:   db,
		opts: buildOptions(opts),
	}
}

// Name implements monitoring.Probe
func (p *DatabaseProbe) Name() string {
	return p.name
}

// Sample pings the database and reads the pool statistics
func (p *DatabaseProbe) Sample(ctx context.Context) alerting.Context {
	pingCtx, cancel := context.WithTimeout(ctx, p.opts.pingTimeout)
	defer cancel()
	pingErr := p.db.PingContext(pingCtx)

	stats := p.db.Stats()

	p.mu.Lock()
	exhausted := dbPoolExhausted(stats, p.lastWaitCount, p.sampled)
	p.lastWaitCount = stats.WaitCount
	p.sampled = true
	p.mu.Unlock()

	p.opts.metrics.UpdateDatabaseConnections(p.name, stats.OpenConnections, stats.InUse, stats.Idle, stats.MaxOpenConnections)

	evalCtx := alerting.Context{
		"serviceName":        p.name,
		"poolExhausted":      exhausted,
		"openConnections":    stats.OpenConnections,
		"inUse":              stats.InUse,
		"idle":               stats.Idle,
		"maxOpenConnections": stats.MaxOpenConnections,
		"waitCount":          stats.WaitCount,
		"waitDuration":       stats.WaitDuration,
	}

	if pingErr != nil {
		p.opts.logger.Warn("Database probe ping failed", "probe", p.name, "error", pingErr)
		evalCtx["poolExhausted"] = false
		evalCtx["probeError"] = pingErr.Error()
	}

	return evalCtx
}

// Close closes the pool
func (p *DatabaseProbe) Close() error {
	return p.db.Close()
}

// dbPoolExhausted reports a saturated pool: every allowed connection in use,
// or callers had to wait since the previous sample
func dbPoolExhausted(stats sql.DBStats, lastWaitCount int64, sampled bool) bool {
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return true
	}
	return sampled && stats.WaitCount > lastWaitCount
}
