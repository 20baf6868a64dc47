// Package middleware provides the Gin middleware registered ahead of every
// route: request id propagation, Prometheus metrics, structured request
// logging and per-client rate limiting.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header that propagates the request id.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request id string.
	RequestIDKey = "request_id"
)

// RequestID ensures every request carries an identifier. An inbound
// X-Request-ID from a proxy or caller is reused; otherwise a fresh UUID is
// generated. The id is stored on the context and echoed in the response so
// clients can correlate with server-side logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
