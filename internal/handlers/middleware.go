package handlers

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	app "mentalmath/internal/app"
	constants "mentalmath/internal/constants"
)

const csp = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self' ws: wss:; object-src 'none'; base-uri 'self'; form-action 'self'; frame-ancestors 'none';"

func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", csp)
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		}
		c.Next()
	}
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.Request.Header.Get(constants.RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), constants.RequestIDKey, reqID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(constants.RequestIDHeader, reqID)
		c.Next()
	}
}

func RateLimitMiddleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests. Please slow down.",
				"error_code": constants.ErrorCodeRateLimited,
			})
			return
		}
		c.Next()
	}
}

// CSRFMiddleware issues the double-submit token cookie.
func CSRFMiddleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(constants.CSRFCookieName)
		if err != nil || len(token) < 8 {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err == nil {
				token = fmt.Sprintf("%x", b)
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(constants.CSRFCookieName, token, int(a.Config.CookieMaxAge.Seconds()), "/", "", a.IsProduction(), false)
			}
		}
		c.Set(constants.CSRFCookieName, token)
		c.Next()
	}
}

// ValidateCSRFMiddleware rejects mutating requests whose header token does not match the cookie.
func ValidateCSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			cookie, _ := c.Cookie(constants.CSRFCookieName)
			header := c.GetHeader(constants.CSRFHeaderName)
			if header == "" || cookie == "" || header != cookie {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":      "invalid csrf token",
					"error_code": constants.ErrorCodeInvalidCSRF,
				})
				return
			}
		}
		c.Next()
	}
}

// CacheHeadersMiddleware lets the home banner be cached in production; everything else is no-store.
func CacheHeadersMiddleware(a *app.App) gin.HandlerFunc {
	noStore := cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})
	public := cachecontrol.New(cachecontrol.Config{
		Public: true,
		MaxAge: cachecontrol.Duration(a.Config.StaticCacheAge),
	})
	return func(c *gin.Context) {
		if a.IsProduction() && c.Request.Method == http.MethodGet && strings.TrimSuffix(c.Request.URL.Path, "/") == "" {
			public(c)
			c.Header("Vary", "Accept-Encoding")
			return
		}
		noStore(c)
	}
}
