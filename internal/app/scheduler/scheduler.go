// Package scheduler publishes the periodic pipeline triggers: ranking
// refreshes, retention sweeps and ban synchronization.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/model"
)

// Publisher is the queue handoff the scheduler publishes triggers to.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Service owns the cron wiring. Every job only enqueues a message;
// the consuming stages do the work.
type Service struct {
	logger    *zap.Logger
	publisher Publisher
	stores    []string
	cron      *cron.Cron
	now       func() time.Time
}

// New creates the scheduler for the given store roots.
func New(logger *zap.Logger, publisher Publisher, stores []string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:    logger,
		publisher: publisher,
		stores:    stores,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start registers the periodic jobs and starts the cron loop.
func (s *Service) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		// Refresh today's daily rankings every minute.
		{"* * * * *", "daily ranking refresh", s.refreshDailyRankings},
		// Close out yesterday: refresh weekly/monthly rankings and
		// sweep expired daily rows.
		{"10 0 * * *", "daily cleanup", s.dailyCleanup},
		// Reclaim the closed week's counters on Monday.
		{"30 1 * * 1", "weekly cleanup", s.weeklyCleanup},
		// Reclaim the closed month's counters on the 1st.
		{"45 1 1 * *", "monthly cleanup", s.monthlyCleanup},
		// Fold fresh abuse signals into the ban list.
		{"*/10 * * * *", "ban synchronization", s.syncBans},
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := job.run(ctx); err != nil {
				s.logger.Error("scheduled trigger failed",
					zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("stores", len(s.stores)))
	return nil
}

// Stop stops the cron loop.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.logger.Info("scheduler stopped")
	}
}

func (s *Service) refreshDailyRankings(ctx context.Context) error {
	return s.publishRankingUpdates(ctx, model.Daily, s.today())
}

func (s *Service) dailyCleanup(ctx context.Context) error {
	yesterday := s.today().AddDate(0, 0, -1)

	// Weekly and monthly boards still accumulate; refresh them from
	// the day just closed.
	if err := s.publishRankingUpdates(ctx, model.Weekly, yesterday); err != nil {
		return err
	}
	if err := s.publishRankingUpdates(ctx, model.Monthly, yesterday); err != nil {
		return err
	}

	for _, kind := range []string{model.KindCounter, model.KindSnapshot} {
		if err := s.publisher.Publish(ctx, model.SubjectSweep, model.SweepTask{
			Kind:      kind,
			Frequency: model.Daily,
			Date:      yesterday,
		}); err != nil {
			return err
		}
	}

	// Expire resolution cache rows older than a week.
	return s.publisher.Publish(ctx, model.SubjectSweep, model.SweepTask{
		Kind: model.KindLink,
		Date: s.today().AddDate(0, 0, -7),
	})
}

func (s *Service) weeklyCleanup(ctx context.Context) error {
	return s.sweepClosedPeriod(ctx, model.Weekly, s.today().AddDate(0, 0, -7))
}

func (s *Service) monthlyCleanup(ctx context.Context) error {
	return s.sweepClosedPeriod(ctx, model.Monthly, s.today().AddDate(0, -1, 0))
}

func (s *Service) sweepClosedPeriod(ctx context.Context, freq model.Frequency, date time.Time) error {
	for _, kind := range []string{model.KindCounter, model.KindSnapshot} {
		if err := s.publisher.Publish(ctx, model.SubjectSweep, model.SweepTask{
			Kind:      kind,
			Frequency: freq,
			Date:      date,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) syncBans(ctx context.Context) error {
	return s.publisher.Publish(ctx, model.SubjectSyncBans, struct{}{})
}

func (s *Service) publishRankingUpdates(ctx context.Context, freq model.Frequency, date time.Time) error {
	for _, store := range s.stores {
		if err := s.publisher.Publish(ctx, model.SubjectUpdateRanking, model.RankingUpdate{
			Store:     store,
			Frequency: freq,
			Date:      date,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}
