package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sessiond/internal/runtime"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	runtime  *runtime.Runtime
	registry *sessionRegistry
	events   *SessionEventService
	tokens   *TokenService

	streamInterval time.Duration
}

// NewServer creates a new API server wired to the session runtime, the
// event store and the token service.
func NewServer(port int, rt *runtime.Runtime, db *sql.DB, tokens *TokenService) *Server {
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:           e,
		port:           port,
		runtime:        rt,
		registry:       newSessionRegistry(),
		events:         NewSessionEventService(db),
		tokens:         tokens,
		streamInterval: 2 * time.Second,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	// Token issue is the only unauthenticated session endpoint.
	v1.POST("/sessions/:id/token", s.issueSessionToken)

	sessions := v1.Group("/sessions", s.tokens.BearerAuth())
	sessions.GET("/:id", s.getSession)
	sessions.POST("/:id/messages", s.postSessionMessage)
	sessions.GET("/:id/activity", s.getSessionActivity)
	sessions.GET("/:id/events", s.streamSessionEvents)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
