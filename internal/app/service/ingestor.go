package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/model"
)

// BatchPublisher hands a drained batch off to the next stage.
type BatchPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// MentionIngestor buffers raw mention candidates into bounded batches
// and pours each full batch onto the resolve-urls queue as a single
// message. Producers serialize on the batch mutex, which is the
// pipeline's natural backpressure point. No dedup happens here; the
// resolver dedups per resolved URL.
type MentionIngestor struct {
	logger    *zap.Logger
	publisher BatchPublisher
	capacity  int

	mu    sync.Mutex
	batch []model.MentionCandidate
}

// NewMentionIngestor creates an ingestor with the given batch capacity.
func NewMentionIngestor(logger *zap.Logger, publisher BatchPublisher, capacity int) *MentionIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 20
	}
	return &MentionIngestor{
		logger:    logger,
		publisher: publisher,
		capacity:  capacity,
		batch:     make([]model.MentionCandidate, 0, capacity),
	}
}

// Add appends one candidate. When the batch reaches capacity it is
// atomically drained and published; the batch resets to accepting.
func (i *MentionIngestor) Add(ctx context.Context, candidate model.MentionCandidate) error {
	i.mu.Lock()
	i.batch = append(i.batch, candidate)
	if len(i.batch) < i.capacity {
		i.mu.Unlock()
		return nil
	}
	drained := i.batch
	i.batch = make([]model.MentionCandidate, 0, i.capacity)
	i.mu.Unlock()

	return i.pour(ctx, drained)
}

// Flush publishes whatever is buffered, regardless of capacity. Called
// on shutdown so tail mentions are not lost.
func (i *MentionIngestor) Flush(ctx context.Context) error {
	i.mu.Lock()
	if len(i.batch) == 0 {
		i.mu.Unlock()
		return nil
	}
	drained := i.batch
	i.batch = make([]model.MentionCandidate, 0, i.capacity)
	i.mu.Unlock()

	return i.pour(ctx, drained)
}

func (i *MentionIngestor) pour(ctx context.Context, drained []model.MentionCandidate) error {
	batch := model.MentionBatch{
		ID:       uuid.New().String(),
		Mentions: drained,
	}
	if err := i.publisher.Publish(ctx, model.SubjectResolveURLs, batch); err != nil {
		return err
	}
	i.logger.Debug("mention batch poured",
		zap.String("batch_id", batch.ID),
		zap.Int("size", len(drained)))
	return nil
}
