package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/repository"
	"github.com/keremalp/mentionrank/internal/app/service"
	inthttp "github.com/keremalp/mentionrank/internal/http/handler"
	"github.com/keremalp/mentionrank/internal/http/middleware"
)

// Dependencies bundles what the HTTP surface needs.
type Dependencies struct {
	Logger    *zap.Logger
	Redis     *redis.Client
	Ingestor  *service.MentionIngestor
	Snapshots repository.SnapshotRepository
	TopCount  int
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with default routes.
func New(deps Dependencies) *Server {
	app := fiber.New()

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use(middleware.RequestID())
	s.app.Use(middleware.Recovery(s.deps.Logger))
	s.app.Use(middleware.Logger(s.deps.Logger))
	if s.deps.Redis != nil {
		s.app.Use(middleware.RateLimit(s.deps.Redis, middleware.DefaultRateLimitConfig(), s.deps.Logger))
	}

	handler := inthttp.NewPipelineHandler(inthttp.PipelineDeps{
		Logger:    s.deps.Logger,
		Ingestor:  s.deps.Ingestor,
		Snapshots: s.deps.Snapshots,
		TopCount:  s.deps.TopCount,
	})
	handler.Register(s.app)
}
