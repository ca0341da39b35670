package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"time"

	"task-master/backend/internal/config"
	"task-master/backend/internal/handlers"
	"task-master/backend/internal/middleware"
	"task-master/backend/internal/monitoring"
	"task-master/backend/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Dependencies are the collaborators the HTTP surface is built from.
// A nil RateLimiter disables rate limiting; a nil Monitor gets a fresh one.
type Dependencies struct {
	Config      *config.Config
	Tasks       services.TaskService
	Identity    middleware.IdentityResolver
	RateLimiter *middleware.RateLimiter
	Monitor     *monitoring.Monitor
}

func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	monitor := deps.Monitor
	if monitor == nil {
		monitor = monitoring.NewMonitor()
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithLog())
	router.Use(middleware.RequestLogger())
	router.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))
	router.Use(monitor.Middleware())

	router.GET("/health", monitor.HealthHandler())
	router.GET("/health/ready", monitor.ReadinessHandler())
	router.GET("/health/live", monitor.LivenessHandler())
	router.GET("/metrics", monitor.MetricsHandler())

	tasks := router.Group("/tasks")
	tasks.Use(middleware.RequireIdentity(deps.Identity))
	if deps.RateLimiter != nil {
		tasks.Use(deps.RateLimiter.Middleware())
	}
	handlers.NewTaskHandler(deps.Tasks).RegisterRoutes(tasks)

	return router
}

// corsConfig allows the browser UI origins. An empty list or "*" opens
// the API to any origin.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}
	c.AllowOrigins = origins
	return c
}

type Server struct {
	httpServer *http.Server
}

func New(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.GetServerAddr(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves in the background. Listen errors other than a normal
// shutdown are logged and reported on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[server] listen failed: %v", err)
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Stop(ctx context.Context) error {
	log.Printf("[server] shutting down")
	return s.httpServer.Shutdown(ctx)
}
