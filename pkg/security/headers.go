// Package security hardens the administrative HTTP surface: response headers,
// CORS and request size limits.
package security

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeadersConfig configures the middleware returned by Middleware
type HeadersConfig struct {
	CSPDirectives map[string][]string

	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	// Origins may use a subdomain wildcard such as https://*.example.com;
	// empty or "*" allows every origin without credentials
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration

	ReferrerPolicy string
	XFrameOptions  string
	ServerName     string

	// MaxBodyBytes limits request bodies; 0 disables the limit
	MaxBodyBytes int64
}

// DefaultHeadersConfig is locked down for a JSON API
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSPDirectives: map[string][]string{
			"default-src":     {"'none'"},
			"frame-ancestors": {"'none'"},
		},
		HSTSMaxAge:            int((365 * 24 * time.Hour).Seconds()),
		HSTSIncludeSubdomains: true,
		AllowedOrigins:        []string{"*"},
		AllowedMethods:        []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Request-ID", "X-Correlation-ID",
		},
		ExposedHeaders: []string{"X-Request-ID", "X-Correlation-ID", "Retry-After"},
		MaxAge:         12 * time.Hour,
		ReferrerPolicy: "no-referrer",
		XFrameOptions:  "DENY",
		ServerName:     "fleetwatch",
		MaxBodyBytes:   1 << 20,
	}
}

// Middleware returns CORS, response headers and the body limit, in order
func Middleware(config HeadersConfig) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		CORSMiddleware(config),
		HeadersMiddleware(config),
		BodyLimitMiddleware(config.MaxBodyBytes),
	}
}

// responseHeaders resolves config into the fixed header set; empty values are
// left out
func responseHeaders(config HeadersConfig) map[string]string {
	headers := map[string]string{
		"Content-Security-Policy":   cspValue(config.CSPDirectives),
		"Strict-Transport-Security": hstsValue(config.HSTSMaxAge, config.HSTSIncludeSubdomains),
		"Referrer-Policy":           config.ReferrerPolicy,
		"X-Frame-Options":           config.XFrameOptions,
		"Server":                    config.ServerName,
		"X-Content-Type-Options":    "nosniff",
		"Cache-Control":             "no-store",
	}
	for name, value := range headers {
		if value == "" {
			delete(headers, name)
		}
	}
	return headers
}

func HeadersMiddleware(config HeadersConfig) gin.HandlerFunc {
	headers := responseHeaders(config)

	return func(c *gin.Context) {
		for name, value := range headers {
			c.Header(name, value)
		}
		c.Next()
	}
}

// BodyLimitMiddleware rejects declared oversize bodies with 413 and caps the
// rest while they are read
func BodyLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxSize > 0 {
			if c.Request.ContentLength > maxSize {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"error":    "Request body too large",
					"max_size": maxSize,
				})
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}

// cspValue joins directives in name order
func cspValue(directives map[string][]string) string {
	var parts []string
	for name, sources := range directives {
		if len(sources) > 0 {
			parts = append(parts, name+" "+strings.Join(sources, " "))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func hstsValue(maxAge int, includeSubdomains bool) string {
	if maxAge <= 0 {
		return ""
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if includeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}
