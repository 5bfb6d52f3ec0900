package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxBodyBytes caps how much of a health response is read
const maxBodyBytes = 64 << 10

// HTTPChecker polls a service health endpoint with GET.
//
// A transport error or timeout is unhealthy; otherwise the status code is
// classified by ClassifyResponse. A JSON body is kept on the check.
type HTTPChecker struct {
	Name   string
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates a checker with its own client timeout
func NewHTTPChecker(name, url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		Name:   name,
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Check implements Checker
func (hc *HTTPChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{Name: hc.Name, Timestamp: start}

	unreachable := func(format string, err error) *Check {
		check.Status = StatusUnhealthy
		check.Error = fmt.Sprintf(format, err)
		check.Duration = time.Since(start)
		return check
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.URL, nil)
	if err != nil {
		return unreachable("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	client := hc.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return unreachable("request failed: %v", err)
	}
	defer resp.Body.Close()

	check.StatusCode = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return unreachable("failed to read response: %v", err)
	}
	check.Duration = time.Since(start)
	check.Status = ClassifyResponse(resp.StatusCode)
	check.Metadata = map[string]string{
		"status_code":   strconv.Itoa(resp.StatusCode),
		"response_time": check.Duration.String(),
	}

	if check.Status != StatusHealthy {
		check.Message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return check
	}

	check.Message = "endpoint is healthy"
	var body interface{}
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
		check.Body = body
	}
	return check
}
