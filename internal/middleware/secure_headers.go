package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecureHeadersConfig contains configuration for secure headers
type SecureHeadersConfig struct {
	UseHSTS        bool
	HSTSMaxAge     time.Duration
	FrameOptions   string
	ReferrerPolicy string
	// NoStorePrefixes lists path prefixes whose responses must never be cached
	NoStorePrefixes []string
}

// DefaultSecureHeadersConfig returns the headers used by the JSON API
func DefaultSecureHeadersConfig(production bool) SecureHeadersConfig {
	return SecureHeadersConfig{
		UseHSTS:         production,
		HSTSMaxAge:      365 * 24 * time.Hour,
		FrameOptions:    "DENY",
		ReferrerPolicy:  "strict-origin-when-cross-origin",
		NoStorePrefixes: []string{"/api/orders", "/api/referrals", "/api/admin", "/api/checkout-sessions", "/payment-success"},
	}
}

// SecureHeadersMiddleware adds security headers to responses
func SecureHeadersMiddleware(config SecureHeadersConfig) gin.HandlerFunc {
	hsts := "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge.Seconds()), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		if config.UseHSTS {
			h.Set("Strict-Transport-Security", hsts)
		}
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", config.FrameOptions)
		h.Set("Referrer-Policy", config.ReferrerPolicy)
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		path := c.Request.URL.Path
		for _, prefix := range config.NoStorePrefixes {
			if strings.HasPrefix(path, prefix) {
				h.Set("Cache-Control", "no-store")
				break
			}
		}

		c.Next()
	}
}
