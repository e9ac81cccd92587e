package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/repository"
	"github.com/keremalp/mentionrank/internal/app/service"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

// PipelineDeps groups dependencies of the intake and rankings routes.
type PipelineDeps struct {
	Logger    *zap.Logger
	Ingestor  *service.MentionIngestor
	Snapshots repository.SnapshotRepository
	TopCount  int
}

// PipelineHandler exposes the mention intake endpoint the stream
// watcher posts to, and a read-only rankings endpoint.
type PipelineHandler struct {
	logger    *zap.Logger
	ingestor  *service.MentionIngestor
	snapshots repository.SnapshotRepository
	topCount  int
}

// NewPipelineHandler creates the handler with the provided dependencies.
func NewPipelineHandler(deps PipelineDeps) *PipelineHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	topCount := deps.TopCount
	if topCount <= 0 {
		topCount = 100
	}
	return &PipelineHandler{
		logger:    logger,
		ingestor:  deps.Ingestor,
		snapshots: deps.Snapshots,
		topCount:  topCount,
	}
}

// Register wires the routes onto the provided router.
func (h *PipelineHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/health", h.Health)
	router.Post("/mentions", h.Ingest)
	router.Get("/rankings/:frequency", h.Rankings)
}

// Health is a simple root endpoint so we know the service is running.
func (h *PipelineHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "mentionrank",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ingest accepts one raw mention candidate from the stream watcher.
func (h *PipelineHandler) Ingest(c *fiber.Ctx) error {
	var candidate model.MentionCandidate
	if err := c.BodyParser(&candidate); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid mention payload",
		})
	}
	if candidate.URL == "" || candidate.PosterID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url and poster_id are required",
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := h.ingestor.Add(ctx, candidate); err != nil {
		h.logger.Error("failed to ingest mention", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "ingestion temporarily unavailable",
		})
	}

	infraPrometheus.MentionsIngested.Inc()
	return c.SendStatus(fiber.StatusAccepted)
}

// Rankings returns the materialized leaderboard for a store, frequency
// and date.
func (h *PipelineHandler) Rankings(c *fiber.Ctx) error {
	freq, err := model.ParseFrequencyValue(c.Params("frequency"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "frequency must be daily, weekly or monthly",
		})
	}

	store := c.Query("store")
	if store == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "store query parameter is required",
		})
	}

	date := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		date, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "date must be YYYY-MM-DD",
			})
		}
	}

	period, err := model.PeriodOf(freq, date)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	snapshots, err := h.snapshots.TopForPeriod(ctx, store, period, h.topCount)
	if err != nil {
		h.logger.Error("failed to load rankings",
			zap.String("store", store),
			zap.String("period", period.String()),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return c.JSON(fiber.Map{
		"store":     store,
		"frequency": freq,
		"period":    period.Token(),
		"entries":   snapshots,
	})
}
