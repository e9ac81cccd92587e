package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/service"
)

type capturingPublisher struct {
	batches []model.MentionBatch
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, payload any) error {
	p.batches = append(p.batches, payload.(model.MentionBatch))
	return nil
}

type stubSnapshotRepo struct {
	top []model.RankingSnapshot
	err error
}

func (s *stubSnapshotRepo) GetByKeys(context.Context, []string) ([]model.RankingSnapshot, error) {
	return nil, nil
}
func (s *stubSnapshotRepo) Upsert(context.Context, []*model.RankingSnapshot) error { return nil }
func (s *stubSnapshotRepo) DeleteByKeys(context.Context, []string) error           { return nil }
func (s *stubSnapshotRepo) TopForPeriod(context.Context, string, model.Period, int) ([]model.RankingSnapshot, error) {
	return s.top, s.err
}
func (s *stubSnapshotRepo) LatestCompleteForProduct(context.Context, string) (*model.RankingSnapshot, error) {
	return nil, nil
}
func (s *stubSnapshotRepo) BanTargets(context.Context, int) ([]model.RankingSnapshot, error) {
	return nil, nil
}
func (s *stubSnapshotRepo) MarkBanSynced(context.Context, []string) error { return nil }

func newTestApp(publisher *capturingPublisher, snapshots *stubSnapshotRepo) *fiber.App {
	app := fiber.New()
	handler := NewPipelineHandler(PipelineDeps{
		Ingestor:  service.NewMentionIngestor(nil, publisher, 1),
		Snapshots: snapshots,
		TopCount:  100,
	})
	handler.Register(app)
	return app
}

func TestIngest_AcceptsMention(t *testing.T) {
	publisher := &capturingPublisher{}
	app := newTestApp(publisher, &stubSnapshotRepo{})

	req := httptest.NewRequest("POST", "/mentions",
		strings.NewReader(`{"url":"http://bit.ly/abc","poster_id":"poster-1"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	// Capacity 1: the batch pours immediately.
	require.Len(t, publisher.batches, 1)
	require.Equal(t, "http://bit.ly/abc", publisher.batches[0].Mentions[0].URL)
}

func TestIngest_RejectsIncompletePayload(t *testing.T) {
	app := newTestApp(&capturingPublisher{}, &stubSnapshotRepo{})

	req := httptest.NewRequest("POST", "/mentions", strings.NewReader(`{"url":""}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRankings_ValidatesFrequency(t *testing.T) {
	app := newTestApp(&capturingPublisher{}, &stubSnapshotRepo{})

	resp, err := app.Test(httptest.NewRequest("GET", "/rankings/hourly?store=x", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRankings_RequiresStore(t *testing.T) {
	app := newTestApp(&capturingPublisher{}, &stubSnapshotRepo{})

	resp, err := app.Test(httptest.NewRequest("GET", "/rankings/daily", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRankings_ReturnsLeaderboard(t *testing.T) {
	daily, _ := model.PeriodOf(model.Daily, time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC))
	snapshot := model.NewSnapshot("http://store.example/o/ASIN/B000123456", "http://store.example", daily, 42)
	snapshot.Title = "Some Gadget"
	snapshot.State = model.SnapshotComplete

	app := newTestApp(&capturingPublisher{}, &stubSnapshotRepo{top: []model.RankingSnapshot{*snapshot}})

	resp, err := app.Test(httptest.NewRequest("GET",
		"/rankings/daily?store=http%3A%2F%2Fstore.example&date=2026-08-30", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
