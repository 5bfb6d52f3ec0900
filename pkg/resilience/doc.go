// Package resilience provides the circuit breaker, the breaker registry and
// retry logic used to guard outbound calls made by fleetwatch.
//
// # Circuit Breaker Pattern
//
// A breaker counts consecutive failures while CLOSED and opens once the
// failure threshold is reached. While OPEN every call is rejected with a
// *CircuitOpenError until the reset timeout has elapsed since the last
// failure; the next call then moves the breaker to HALF_OPEN. A limited
// number of probe calls are admitted in HALF_OPEN: one failure reopens the
// circuit and HalfOpenMaxAttempts consecutive successes close it.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:                "orders",
//		FailureThreshold:    5,
//		ResetTimeout:        30 * time.Second,
//		HalfOpenMaxAttempts: 3,
//	})
//
//	result, err := cb.ExecuteWithFallback(ctx, func(ctx context.Context) (interface{}, error) {
//		return orders.Fetch(ctx, id)
//	}, func(ctx context.Context, err error) (interface{}, error) {
//		return cachedOrder(id), nil
//	})
//
// # Registry
//
// CircuitBreakerRegistry hands out one breaker per name and reports every
// transition to its listeners:
//
//	registry := resilience.NewRegistry(resilience.CircuitBreakerConfig{ResetTimeout: 30 * time.Second})
//	breaker := registry.Get("notify-slack")
//
// # Retry with Exponential Backoff
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// GuardedCall combines both: the call runs through a registry breaker and is
// retried until it succeeds, fails permanently or the breaker opens.
package resilience
