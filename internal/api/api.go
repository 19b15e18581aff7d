// Package api provides the REST surface of the facade using the Gin framework.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"msixvcdl/internal/auth"
	"msixvcdl/internal/catalog"
	"msixvcdl/internal/config"
	"msixvcdl/internal/db"
	"msixvcdl/internal/logger"
	"msixvcdl/internal/monitor"
	"msixvcdl/internal/packages"
)

// Server exposes the download resolution and management endpoints.
type Server struct {
	router      *gin.Engine
	server      *http.Server
	configMgr   *config.Manager
	authMgr     *auth.Manager
	cache       *db.CacheRepository
	catalog     *catalog.Client
	packages    *packages.Client
	monitor     *monitor.Monitor
	promMetrics *monitor.PrometheusMetrics
}

// NewServer creates the API server and wires up all routes.
func NewServer(
	configMgr *config.Manager,
	authMgr *auth.Manager,
	cache *db.CacheRepository,
	catalogClient *catalog.Client,
	packageClient *packages.Client,
	mon *monitor.Monitor,
	promMetrics *monitor.PrometheusMetrics,
) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		configMgr:   configMgr,
		authMgr:     authMgr,
		cache:       cache,
		catalog:     catalogClient,
		packages:    packageClient,
		monitor:     mon,
		promMetrics: promMetrics,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.timingMiddleware())

	s.router.GET("/health", s.getHealth)

	// The OAuth redirect endpoints cannot require an API key: the identity
	// service calls back without one.
	authGroup := s.router.Group("/auth")
	{
		authGroup.GET("/login", s.authLogin)
		authGroup.GET("/callback", s.authCallback)
	}

	api := s.router.Group("/api")
	{
		api.Use(s.authMiddleware())

		api.GET("/download/:id", s.getDownload)

		api.GET("/auth/status", s.getAuthStatus)

		api.POST("/cache/purge", s.purgeCache)
		api.GET("/cache/stats", s.getCacheStats)

		api.GET("/metrics", s.getMetrics)
		api.GET("/stats/system", s.getSystemStats)
	}
}

// Start starts the API server on the specified address.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: cors.Default().Handler(s.router),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Router returns the underlying gin engine (used by handler tests).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// APIResponse represents a unified API response format.
type APIResponse struct {
	Success bool        `json:"success"`
	Msg     string      `json:"msg"`
	Data    interface{} `json:"data,omitempty"`
}

// respondError sends an error response with unified format.
func respondError(c *gin.Context, code int, message string, details string) {
	msg := message
	if details != "" {
		msg = message + ": " + details
	}
	c.JSON(code, APIResponse{
		Success: false,
		Msg:     msg,
	})
}

// respondSuccess sends a success response with unified format.
func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Msg:     "ok",
		Data:    data,
	})
}

// authMiddleware validates API key authentication. When no key is configured
// authentication is skipped.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := s.configMgr.Config().APIKey
		if configured == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			respondError(c, http.StatusUnauthorized, "API key required", "X-API-Key header is missing")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(configured)) != 1 {
			respondError(c, http.StatusUnauthorized, "Invalid API key", "")
			c.Abort()
			return
		}

		c.Next()
	}
}

// timingMiddleware records request durations per route.
func (s *Server) timingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.promMetrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.promMetrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// getMetrics serves the prometheus registry.
func (s *Server) getMetrics(c *gin.Context) {
	if s.promMetrics == nil {
		respondError(c, http.StatusNotFound, "Metrics not enabled", "")
		return
	}

	s.promMetrics.UpdateSystemMetrics()
	handler := promhttp.HandlerFor(s.promMetrics.Registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(c.Writer, c.Request)
}

// getHealth reports liveness.
func (s *Server) getHealth(c *gin.Context) {
	respondSuccess(c, gin.H{
		"status":  "ok",
		"version": logger.Version,
	})
}

// getSystemStats returns system resource usage.
func (s *Server) getSystemStats(c *gin.Context) {
	if s.monitor == nil {
		respondError(c, http.StatusNotFound, "Monitoring not enabled", "")
		return
	}
	respondSuccess(c, s.monitor.GetSystemStats())
}

// Addr formats the listen address for the configured port.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
