package resilience

import (
	"sort"
	"sync"

	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
)

// StateChangeListener receives every transition of every breaker in a registry
type StateChangeListener func(name string, from CircuitState, to CircuitState)

// RegistryOption configures a CircuitBreakerRegistry
type RegistryOption func(*CircuitBreakerRegistry)

// WithStateChangeListener registers a listener at construction time
func WithStateChangeListener(listener StateChangeListener) RegistryOption {
	return func(r *CircuitBreakerRegistry) {
		if listener != nil {
			r.listeners = append(r.listeners, listener)
		}
	}
}

// WithRegistryLogger overrides the global logger
func WithRegistryLogger(logger *logging.Logger) RegistryOption {
	return func(r *CircuitBreakerRegistry) {
		r.logger = logger
	}
}

// CircuitBreakerRegistry owns one breaker per named call path. It is built once
// at startup and handed to every component that guards outbound calls.
type CircuitBreakerRegistry struct {
	defaults  CircuitBreakerConfig
	breakers  map[string]*CircuitBreaker
	listeners []StateChangeListener
	mu        sync.RWMutex
	logger    *logging.Logger
}

// NewRegistry creates a registry whose breakers start from defaults
func NewRegistry(defaults CircuitBreakerConfig, opts ...RegistryOption) *CircuitBreakerRegistry {
	r := &CircuitBreakerRegistry{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
		logger:   logging.GetLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Get returns the breaker for name, creating it on first use. Overrides are
// applied only when the breaker is created.
func (r *CircuitBreakerRegistry) Get(name string, overrides ...func(*CircuitBreakerConfig)) *CircuitBreaker {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = r.breakers[name]; exists {
		return breaker
	}

	config := r.defaults
	config.Name = name
	for _, override := range overrides {
		override(&config)
	}

	userHook := config.OnStateChange
	config.OnStateChange = func(name string, from CircuitState, to CircuitState) {
		if userHook != nil {
			userHook(name, from, to)
		}
		r.handleStateChange(name, from, to)
	}

	breaker = NewCircuitBreaker(config)
	r.breakers[name] = breaker

	r.logger.Info("Created circuit breaker", "name", name)

	return breaker
}

// Lookup returns an existing breaker without creating one
func (r *CircuitBreakerRegistry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breaker, ok := r.breakers[name]
	return breaker, ok
}

// Names returns the registered breaker names in sorted order
func (r *CircuitBreakerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Statuses returns a snapshot of every breaker, sorted by name
func (r *CircuitBreakerRegistry) Statuses() []BreakerStatus {
	statuses := make([]BreakerStatus, 0)
	for _, breaker := range r.snapshot() {
		statuses = append(statuses, breaker.Status())
	}
	return statuses
}

// ResetAll force-closes every breaker
func (r *CircuitBreakerRegistry) ResetAll() {
	for _, breaker := range r.snapshot() {
		breaker.ForceClose()
	}

	r.logger.Info("All circuit breakers reset")
}

// AddStateChangeListener registers a listener for state change notifications
func (r *CircuitBreakerRegistry) AddStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		r.logger.Warn("Attempted to register a nil state change listener")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, listener)
}

func (r *CircuitBreakerRegistry) snapshot() []*CircuitBreaker {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	r.mu.RUnlock()

	sort.Slice(breakers, func(i, j int) bool {
		return breakers[i].Name() < breakers[j].Name()
	})
	return breakers
}

func (r *CircuitBreakerRegistry) handleStateChange(name string, from CircuitState, to CircuitState) {
	r.mu.RLock()
	listeners := make([]StateChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		r.invokeListener(listener, name, from, to)
	}
}

func (r *CircuitBreakerRegistry) invokeListener(listener StateChangeListener, name string, from CircuitState, to CircuitState) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Circuit breaker listener panicked",
				"name", name,
				"panic", rec,
			)
		}
	}()

	listener(name, from, to)
}
