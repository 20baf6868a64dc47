package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
)

// credentials extracts the bearer token and any API key secrets from the
// request. Multiple X-API-Key headers (or one comma-separated header) all
// contribute; the resolver decides whether the combination is coherent.
func credentials(c *gin.Context) (bearer string, secrets []string) {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		bearer = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	for _, header := range c.Request.Header.Values("X-API-Key") {
		for _, part := range strings.Split(header, ",") {
			if s := strings.TrimSpace(part); s != "" {
				secrets = append(secrets, s)
			}
		}
	}
	return bearer, secrets
}

func (h *handlers) readContext(c *gin.Context) (*auth.ReadContext, bool) {
	bearer, secrets := credentials(c)
	rc, err := h.d.Resolver.ResolveRead(c.Request.Context(), bearer, secrets)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return rc, true
}

func (h *handlers) writeContext(c *gin.Context) (*auth.WriteContext, bool) {
	bearer, secrets := credentials(c)
	wc, err := h.d.Resolver.ResolveWrite(c.Request.Context(), bearer, secrets)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return wc, true
}

// sessionUser requires a bearer-authenticated identity; API keys alone
// cannot manage credentials.
func (h *handlers) sessionUser(c *gin.Context) (*auth.ReadContext, bool) {
	rc, ok := h.readContext(c)
	if !ok {
		return nil, false
	}
	if !rc.FromBearer {
		writeError(c, apperr.New(apperr.Forbidden, "a session login is required"))
		return nil, false
	}
	return rc, true
}

// writeError renders a taxonomy error as its HTTP status. Internal causes
// are logged, never echoed.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		slog.Error("unclassified handler error", "error", err, "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": appErr.Msg, "kind": appErr.Kind.String()}
	var status int
	switch appErr.Kind {
	case apperr.Unauthenticated:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.Invalid:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.QuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.Upstream:
		status = http.StatusBadGateway
	case apperr.Consistency:
		status = http.StatusInternalServerError
		body["rolled_back"] = appErr.RolledBack
	default:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError || appErr.Kind == apperr.Upstream {
		slog.Error("request failed", "kind", appErr.Kind.String(), "error", appErr.Error(), "path", c.FullPath())
	}
	c.AbortWithStatusJSON(status, body)
}

// pageParams parses limit and offset with the service-layer defaults.
func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
