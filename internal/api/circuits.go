package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
)

// CircuitHandler exposes the breaker registry to operators
type CircuitHandler struct {
	breakers *resilience.CircuitBreakerRegistry
	logger   *logging.Logger
}

// NewCircuitHandler creates a new circuit handler
func NewCircuitHandler(breakers *resilience.CircuitBreakerRegistry, logger *logging.Logger) *CircuitHandler {
	return &CircuitHandler{breakers: breakers, logger: logger}
}

// ListCircuits handles GET /circuits
func (h *CircuitHandler) ListCircuits(c *gin.Context) {
	SuccessResponse(c, h.breakers.Statuses())
}

// ResetCircuits handles POST /circuits/reset
func (h *CircuitHandler) ResetCircuits(c *gin.Context) {
	h.breakers.ResetAll()
	h.audit(c, "reset", "*")
	SuccessResponse(c, h.breakers.Statuses())
}

// OpenCircuit handles POST /circuits/:name/open
func (h *CircuitHandler) OpenCircuit(c *gin.Context) {
	breaker, ok := h.lookup(c)
	if !ok {
		return
	}
	breaker.ForceOpen()
	h.audit(c, "open", breaker.Name())
	SuccessResponse(c, breaker.Status())
}

// CloseCircuit handles POST /circuits/:name/close
func (h *CircuitHandler) CloseCircuit(c *gin.Context) {
	breaker, ok := h.lookup(c)
	if !ok {
		return
	}
	breaker.ForceClose()
	h.audit(c, "close", breaker.Name())
	SuccessResponse(c, breaker.Status())
}

func (h *CircuitHandler) lookup(c *gin.Context) (*resilience.CircuitBreaker, bool) {
	name := c.Param("name")
	breaker, ok := h.breakers.Lookup(name)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("circuit breaker "+name))
		return nil, false
	}
	return breaker, true
}

func (h *CircuitHandler) audit(c *gin.Context, action, name string) {
	h.logger.WithContext(c.Request.Context()).WithFields(logging.Fields{
		"action":   action,
		"circuit":  name,
		"operator": c.GetString("operator"),
	}).Info("Circuit breaker changed by operator")
}
