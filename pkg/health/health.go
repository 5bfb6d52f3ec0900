// Package health classifies health checks of monitored services and reports
// the health of the fleetwatch process itself.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/disk"

	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
)

// Check is the result of one checker run
type Check struct {
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	StatusCode int               `json:"status_code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	Timestamp  time.Time         `json:"timestamp"`
	Body       interface{}       `json:"body,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HealthResponse is served by Handler
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker is anything that can report a Check
type Checker interface {
	Check(ctx context.Context) *Check
}

// Config holds health check configuration
type Config struct {
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata"`
}

// DefaultConfig returns default health check configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		Metadata: make(map[string]string),
	}
}

// Service aggregates the checkers describing this process's own health
type Service struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	logger    *logging.Logger
	metadata  map[string]string
	timeout   time.Duration
	startedAt time.Time
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		checkers:  make(map[string]Checker),
		logger:    logger,
		metadata:  config.Metadata,
		timeout:   timeout,
		startedAt: time.Now(),
	}
}

// RegisterChecker adds or replaces a named checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// UnregisterChecker removes a named checker
func (s *Service) UnregisterChecker(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkers, name)
}

type namedCheck struct {
	name  string
	check *Check
}

// CheckHealth runs every checker concurrently; the overall status is the
// worst individual one
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mu.RLock()
	results := make(chan namedCheck, len(s.checkers))
	var wg sync.WaitGroup
	for name, checker := range s.checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			results <- namedCheck{name: name, check: checker.Check(ctx)}
		}(name, checker)
	}
	s.mu.RUnlock()

	wg.Wait()
	close(results)

	response := &HealthResponse{
		Status:   StatusHealthy,
		Checks:   make(map[string]*Check),
		Metadata: s.metadata,
	}
	for r := range results {
		response.Checks[r.name] = r.check
		response.Status = Worst(response.Status, r.check.Status)
	}
	response.Timestamp = time.Now()
	response.Duration = response.Timestamp.Sub(start)

	if response.Status != StatusHealthy {
		s.logger.Warn("Self check reported problems",
			"status", string(response.Status),
			"checks", len(response.Checks),
		)
	}

	return response
}

// Handler serves CheckHealth; an unhealthy process answers 503
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()

		response := s.CheckHealth(ctx)

		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, response)
	}
}

// LivenessHandler answers as long as the process serves HTTP
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "alive",
			"timestamp":      time.Now(),
			"uptime_seconds": time.Since(s.startedAt).Seconds(),
		})
	}
}

// CheckFunc reports a status and message; an error downgrades healthy to
// unhealthy
type CheckFunc func(ctx context.Context) (Status, string, error)

// CustomChecker adapts a CheckFunc to Checker
type CustomChecker struct {
	name     string
	fn       CheckFunc
	metadata map[string]string
}

// NewCustomChecker wraps fn under name
func NewCustomChecker(name string, fn CheckFunc) *CustomChecker {
	return &CustomChecker{name: name, fn: fn}
}

// WithMetadata attaches static metadata to every check
func (cc *CustomChecker) WithMetadata(metadata map[string]string) *CustomChecker {
	cc.metadata = metadata
	return cc
}

// Check implements Checker
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	status, message, err := cc.fn(ctx)

	check := &Check{
		Name:      cc.name,
		Status:    status,
		Message:   message,
		Timestamp: start,
		Duration:  time.Since(start),
		Metadata:  cc.metadata,
	}
	if err != nil {
		check.Error = err.Error()
		if status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}
	return check
}

// DiskSpaceChecker reports degraded once disk usage on path exceeds threshold
type DiskSpaceChecker struct {
	path      string
	name      string
	threshold float64 // fraction, 0.0 to 1.0
	usage     func(path string) (*disk.UsageStat, error)
}

// NewDiskSpaceChecker creates a new disk space health checker
func NewDiskSpaceChecker(path, name string, threshold float64) *DiskSpaceChecker {
	return &DiskSpaceChecker{
		path:      path,
		name:      name,
		threshold: threshold,
		usage:     disk.Usage,
	}
}

// Check implements Checker. An unreadable path is unknown.
func (dsc *DiskSpaceChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      dsc.name,
		Timestamp: start,
		Metadata: map[string]string{
			"path":      dsc.path,
			"threshold": fmt.Sprintf("%.1f%%", dsc.threshold*100),
		},
	}

	usage, err := dsc.usage(dsc.path)
	check.Duration = time.Since(start)

	switch {
	case err != nil:
		check.Status = StatusUnknown
		check.Error = err.Error()
	case usage.UsedPercent/100 > dsc.threshold:
		check.Metadata["used_percent"] = fmt.Sprintf("%.1f%%", usage.UsedPercent)
		check.Status = StatusDegraded
		check.Message = "disk space is running low"
	default:
		check.Metadata["used_percent"] = fmt.Sprintf("%.1f%%", usage.UsedPercent)
		check.Status = StatusHealthy
		check.Message = "disk space is healthy"
	}
	return check
}
