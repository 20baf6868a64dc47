// Package api wires the HTTP surface. Handlers stay thin: they extract
// credentials, resolve a scope through auth.Resolver, call one service
// method, and translate the error taxonomy to a status code. No handler
// touches a repository or the index directly.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/middleware"
	"github.com/context8/context8-docker/internal/services"
)

// Deps carries everything the router needs, constructed in cmd/server.
type Deps struct {
	Resolver  *auth.Resolver
	Auth      *services.AuthService
	Solutions *services.SolutionService
	Votes     *services.VoteService
	Search    *services.SearchService
	Keys      *services.APIKeyService
	Status    *services.StatusService

	// Redis backs the rate limiter; nil disables it regardless of config.
	Redis *redis.Client
	Cfg   *config.Config
}

// NewRouter builds the Gin engine with all middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger())
	if d.Redis != nil {
		r.Use(middleware.RateLimit(d.Redis, d.Cfg.RateLimit))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{d: d}
	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.GET("/status", h.authStatus)
			authGroup.POST("/setup", h.authSetup)
			authGroup.POST("/login", h.authLogin)
			authGroup.GET("/me", h.authMe)
		}

		solutions := v1.Group("/solutions")
		{
			solutions.POST("", h.createSolution)
			solutions.GET("", h.listSolutions)
			solutions.GET("/count", h.countSolutions)
			solutions.GET("/search", h.searchSolutions)
			solutions.GET("/:id", h.getSolution)
			solutions.DELETE("/:id", h.deleteSolution)
			solutions.PATCH("/:id/visibility", h.updateVisibility)
			solutions.POST("/:id/vote", h.setVote)
			solutions.DELETE("/:id/vote", h.clearVote)
		}

		keys := v1.Group("/keys")
		{
			keys.POST("", h.createKey)
			keys.GET("", h.listKeys)
			keys.PATCH("/:id/limits", h.updateKeyLimits)
			keys.DELETE("/:id", h.revokeKey)
			keys.POST("/:id/subkeys", h.createSubKey)
		}
		v1.PATCH("/subkeys/:id/permissions", h.updateSubKeyPermissions)
		v1.DELETE("/subkeys/:id", h.revokeSubKey)

		v1.GET("/status", h.systemStatus)
	}
	return r
}

type handlers struct {
	d Deps
}
