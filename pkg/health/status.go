package health

import "net/http"

// Status is the outcome of one check and the state of a monitored service
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

var severity = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnknown:   2,
	StatusUnhealthy: 3,
}

func (s Status) rank() int {
	if r, ok := severity[s]; ok {
		return r
	}
	return severity[StatusUnhealthy]
}

// Weight maps a status onto the service_status gauge (1, 0.5, 0)
func (s Status) Weight() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// Worst returns the more severe of two statuses
func Worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ClassifyResponse maps the status code of an answered health request. Any
// answer outside 2xx, 5xx included, means the service is up but not well.
func ClassifyResponse(statusCode int) Status {
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return StatusHealthy
	}
	return StatusDegraded
}
