package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/model"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

// pageDeleter removes one bounded page of expired rows and returns the
// deleted keys.
type pageDeleter interface {
	DeletePage(ctx context.Context, table sweepTable, task model.SweepTask, pageSize int) ([]string, error)
}

// RetentionSweeper deletes expired rows in bounded pages. A full page
// suggests more rows remain, so the sweeper re-enqueues itself with
// the same parameters; each invocation does a bounded amount of work
// and hands off the remainder.
type RetentionSweeper struct {
	logger    *zap.Logger
	deleter   pageDeleter
	gateway   *cache.Gateway
	publisher BatchPublisher
	pageSize  int
}

// NewRetentionSweeper wires a sweeper stage over the pgx pool. Deletes
// go through raw SQL so each page is one round trip returning the
// removed keys for volatile-tier eviction.
func NewRetentionSweeper(logger *zap.Logger, pool *pgxpool.Pool, gateway *cache.Gateway,
	publisher BatchPublisher, pageSize int) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 200
	}
	return &RetentionSweeper{
		logger:    logger,
		deleter:   &pgxPageDeleter{pool: pool},
		gateway:   gateway,
		publisher: publisher,
		pageSize:  pageSize,
	}
}

type sweepTable struct {
	name      string
	keyColumn string
	namespace string
}

func tableFor(kind string) (sweepTable, error) {
	switch kind {
	case model.KindCounter:
		return sweepTable{name: "counters", keyColumn: "subject_key", namespace: cache.NSCounter}, nil
	case model.KindSnapshot:
		return sweepTable{name: "ranking_snapshots", keyColumn: "subject_key", namespace: cache.NSSnapshot}, nil
	case model.KindLink:
		return sweepTable{name: "resolved_links", keyColumn: "raw_url", namespace: cache.NSLink}, nil
	}
	return sweepTable{}, fmt.Errorf("unknown sweep kind %q", kind)
}

// HandleSweep processes one sweep-retention message.
func (s *RetentionSweeper) HandleSweep(ctx context.Context, data []byte) error {
	var task model.SweepTask
	if err := model.DecodeMessage(data, &task); err != nil {
		s.logger.Warn("dropping malformed sweep task", zap.Error(err))
		return nil
	}

	table, err := tableFor(task.Kind)
	if err != nil {
		s.logger.Warn("dropping sweep task", zap.Error(err))
		return nil
	}

	deleted, err := s.deleter.DeletePage(ctx, table, task, s.pageSize)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", task.Kind, err)
	}
	if len(deleted) == 0 {
		return nil
	}

	infraPrometheus.SweeperPages.WithLabelValues(task.Kind).Inc()
	s.evictVolatile(ctx, table.namespace, deleted)

	s.logger.Info("retention page swept",
		zap.String("kind", task.Kind),
		zap.String("frequency", string(task.Frequency)),
		zap.Int("deleted", len(deleted)))

	// A full page means more rows likely remain; continue next run.
	if len(deleted) == s.pageSize {
		return s.publisher.Publish(ctx, model.SubjectSweep, task)
	}
	return nil
}

type pgxPageDeleter struct {
	pool *pgxpool.Pool
}

func (d *pgxPageDeleter) DeletePage(ctx context.Context, table sweepTable, task model.SweepTask, pageSize int) ([]string, error) {
	where, args := sweepScope(table, task)
	args = append(args, pageSize)

	// Links carry no period columns; expire on resolution age instead.
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s IN (
			SELECT %s FROM %s WHERE %s LIMIT $%d
		) RETURNING %s`,
		table.name, table.keyColumn,
		table.keyColumn, table.name, where, len(args),
		table.keyColumn,
	)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		deleted = append(deleted, key)
	}
	return deleted, rows.Err()
}

func sweepScope(table sweepTable, task model.SweepTask) (string, []interface{}) {
	if table.namespace == cache.NSLink {
		return "resolved_at < $1", []interface{}{task.Date}
	}

	where := "frequency = $1"
	args := []interface{}{string(task.Frequency)}

	p, err := model.PeriodOf(task.Frequency, task.Date)
	if err == nil {
		switch p.Frequency {
		case model.Daily:
			where += fmt.Sprintf(" AND day = $%d", len(args)+1)
			args = append(args, p.Day)
		case model.Weekly:
			where += fmt.Sprintf(" AND week = $%d AND year = $%d", len(args)+1, len(args)+2)
			args = append(args, p.Week, p.Year)
		case model.Monthly:
			where += fmt.Sprintf(" AND month = $%d AND year = $%d", len(args)+1, len(args)+2)
			args = append(args, p.Month, p.Year)
		}
	}

	if task.Store != "" {
		where += fmt.Sprintf(" AND store = $%d", len(args)+1)
		args = append(args, task.Store)
	}
	return where, args
}

func (s *RetentionSweeper) evictVolatile(ctx context.Context, namespace string, keys []string) {
	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = cache.Key(namespace, key)
	}
	if err := s.gateway.Delete(ctx, cacheKeys, cache.VolatileTiers); err != nil {
		s.logger.Warn("volatile eviction after sweep failed", zap.Error(err))
	}
}
