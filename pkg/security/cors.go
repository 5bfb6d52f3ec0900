package security

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func CORSMiddleware(config HeadersConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     config.AllowedMethods,
		AllowHeaders:     config.AllowedHeaders,
		ExposeHeaders:    config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}

	origins := config.AllowedOrigins
	switch {
	case allowsAnyOrigin(origins):
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	case hasWildcard(origins):
		corsConfig.AllowOriginFunc = func(origin string) bool {
			for _, pattern := range origins {
				if matchOrigin(origin, pattern) {
					return true
				}
			}
			return false
		}
	default:
		corsConfig.AllowOrigins = origins
	}

	return cors.New(corsConfig)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func hasWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.Contains(o, "*") {
			return true
		}
	}
	return false
}

// matchOrigin matches origin against an exact origin or a scheme://*.domain
// pattern, which also covers the bare domain
func matchOrigin(origin, pattern string) bool {
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok || !strings.Contains(pattern, "*") {
		return origin == pattern
	}

	domain, ok := strings.CutPrefix(rest, "*.")
	if !ok || (scheme != "http" && scheme != "https") {
		return false
	}

	prefix := scheme + "://"
	if !strings.HasPrefix(origin, prefix) {
		return false
	}
	host := strings.TrimPrefix(origin, prefix)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
