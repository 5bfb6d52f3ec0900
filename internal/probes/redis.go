package probes

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
)

// RedisProbe watches a go-redis connection pool
type RedisProbe struct {
	name   string
	client *redis.Client
	opts   probeOptions

	mu           sync.Mutex
	sampled      bool
	lastTimeouts uint32
}

// NewRedisProbe creates a client for a redis:// URL
func NewRedisProbe(name, url string, opts ...Option) (*RedisProbe, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.NewValidationError("invalid redis URL").WithCause(err)
	}

	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second
	options.PoolTimeout = 4 * time.Second
	options.ConnMaxIdleTime = 5 * time.Minute
	options.MaxRetries = 1

	return NewRedisProbeFromClient(name, redis.NewClient(options), opts...), nil
}

// NewRedisProbeFromClient wraps an existing client
func NewRedisProbeFromClient(name string, client *redis.Client, opts ...Option) *RedisProbe {
	return &RedisProbe{
		name:   name,
		client: client,
		opts:   buildOptions(opts),
	}
}

// Name implements monitoring.Probe
func (p *RedisProbe) Name() string {
	return p.name
}

// Sample pings redis and reads the pool statistics
func (p *RedisProbe) Sample(ctx context.Context) alerting.Context {
	pingCtx, cancel := context.WithTimeout(ctx, p.opts.pingTimeout)
	defer cancel()
	pingErr := p.client.Ping(pingCtx).Err()

	stats := p.client.PoolStats()

	p.mu.Lock()
	exhausted := p.sampled && stats.Timeouts > p.lastTimeouts
	p.lastTimeouts = stats.Timeouts
	p.sampled = true
	p.mu.Unlock()

	p.opts.metrics.UpdateRedisConnections(p.name, int(stats.TotalConns), int(stats.IdleConns), int(stats.StaleConns))

	evalCtx := alerting.Context{
		"serviceName":   p.name,
		"poolExhausted": exhausted,
		"totalConns":    int(stats.TotalConns),
		"idleConns":     int(stats.IdleConns),
		"staleConns":    int(stats.StaleConns),
		"poolHits":      int(stats.Hits),
		"poolMisses":    int(stats.Misses),
		"poolTimeouts":  int(stats.Timeouts),
	}

	if pingErr != nil {
		p.opts.logger.Warn("Redis probe ping failed", "probe", p.name, "error", pingErr)
		evalCtx["poolExhausted"] = false
		evalCtx["probeError"] = pingErr.Error()
	}

	return evalCtx
}

// Close closes the client
func (p *RedisProbe) Close() error {
	return p.client.Close()
}
