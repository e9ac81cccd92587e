package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/external"
	"github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/parse"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

// unresolvedTTL bounds how long a failed fetch outcome suppresses
// re-fetching. Expiry is the retry schedule of unresolved URLs.
const unresolvedTTL = 15 * time.Minute

// LinkResolver turns batches of raw mention URLs into resolved product
// references. Cached product links skip the network entirely; that is
// the main cost-avoidance device, since the external fetch is the
// slowest and least reliable step of the pipeline.
type LinkResolver struct {
	logger    *zap.Logger
	gateway   *cache.Gateway
	follower  external.LinkFollower
	parser    *parse.Parser
	bans      *BanListProvider
	publisher BatchPublisher
	now       func() time.Time
}

// NewLinkResolver wires a resolver stage.
func NewLinkResolver(logger *zap.Logger, gateway *cache.Gateway, follower external.LinkFollower,
	parser *parse.Parser, bans *BanListProvider, publisher BatchPublisher) *LinkResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkResolver{
		logger:    logger,
		gateway:   gateway,
		follower:  follower,
		parser:    parser,
		bans:      bans,
		publisher: publisher,
		now:       time.Now,
	}
}

// HandleBatch processes one resolve-urls message. Malformed messages
// are dropped; per-URL failures never abort the rest of the batch.
// Durable write or enqueue failures surface so the message is
// redelivered, which is safe: re-resolution overwrites and counting
// drift is bounded by the resolved-link cache.
func (r *LinkResolver) HandleBatch(ctx context.Context, data []byte) error {
	var batch model.MentionBatch
	if err := model.DecodeMessage(data, &batch); err != nil {
		r.logger.Warn("dropping malformed mention batch", zap.Error(err))
		return nil
	}

	banned := r.currentBans(ctx)

	// Distinct URLs with their posters; banned posters are dropped
	// before any fetch is issued.
	posters := make(map[string][]string)
	var order []string
	for _, mention := range batch.Mentions {
		if mention.URL == "" {
			continue
		}
		if banned.HasPoster(mention.PosterID) {
			infraPrometheus.MentionsDropped.WithLabelValues("banned_poster").Inc()
			continue
		}
		if _, seen := posters[mention.URL]; !seen {
			order = append(order, mention.URL)
		}
		posters[mention.URL] = append(posters[mention.URL], mention.PosterID)
	}
	if len(order) == 0 {
		return nil
	}

	cached, err := r.lookupCached(ctx, order)
	if err != nil {
		return err
	}

	var fetchTargets []string
	links := make(map[string]*model.ResolvedLink, len(order))
	for _, rawURL := range order {
		if link, ok := cached[rawURL]; ok && link.Settled() {
			links[rawURL] = link
			infraPrometheus.URLsResolved.WithLabelValues("cached").Inc()
			continue
		}
		fetchTargets = append(fetchTargets, rawURL)
	}

	for rawURL, link := range r.fetchAll(ctx, fetchTargets, posters) {
		links[rawURL] = link
	}

	if err := r.writeOutcomes(ctx, order, links); err != nil {
		return err
	}

	return r.emitCounts(ctx, order, links, posters, banned)
}

func (r *LinkResolver) currentBans(ctx context.Context) *model.BanList {
	list, err := r.bans.Current(ctx)
	if err != nil {
		// A broken ban list read must not stall resolution; a missed
		// ban self-heals on the next sync.
		r.logger.Warn("ban list unavailable, proceeding unfiltered", zap.Error(err))
		return &model.BanList{}
	}
	return list
}

func (r *LinkResolver) lookupCached(ctx context.Context, urls []string) (map[string]*model.ResolvedLink, error) {
	keys := make([]string, len(urls))
	for i, rawURL := range urls {
		keys[i] = cache.Key(cache.NSLink, rawURL)
	}
	found, err := r.gateway.Get(ctx, keys, cache.AllTiers)
	if err != nil {
		return nil, fmt.Errorf("resolver cache lookup: %w", err)
	}

	result := make(map[string]*model.ResolvedLink, len(found))
	for i, rawURL := range urls {
		data, ok := found[keys[i]]
		if !ok {
			continue
		}
		var link model.ResolvedLink
		if err := json.Unmarshal(data, &link); err != nil {
			r.logger.Warn("corrupt resolved link entry, refetching",
				zap.String("url", rawURL), zap.Error(err))
			continue
		}
		result[rawURL] = &link
	}
	return result, nil
}

// fetchAll issues every fetch concurrently and joins, bounding batch
// latency to roughly the slowest single fetch.
func (r *LinkResolver) fetchAll(ctx context.Context, urls []string, posters map[string][]string) map[string]*model.ResolvedLink {
	results := make(map[string]*model.ResolvedLink, len(urls))
	if len(urls) == 0 {
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, rawURL := range urls {
		wg.Add(1)
		go func(rawURL string) {
			defer wg.Done()
			link := r.resolveOne(ctx, rawURL, firstPoster(posters[rawURL]))
			mu.Lock()
			results[rawURL] = link
			mu.Unlock()
		}(rawURL)
	}
	wg.Wait()
	return results
}

func (r *LinkResolver) resolveOne(ctx context.Context, rawURL, posterID string) *model.ResolvedLink {
	link := &model.ResolvedLink{
		RawURL:     rawURL,
		PosterID:   posterID,
		State:      model.LinkUnresolved,
		ResolvedAt: r.now(),
	}

	finalURL, err := r.follower.Follow(ctx, rawURL)
	if err != nil {
		if errors.Is(err, external.ErrFetchFailed) {
			// Retryable: stays unresolved, refetched after TTL expiry.
			r.logger.Debug("url fetch failed", zap.String("url", rawURL), zap.Error(err))
			infraPrometheus.URLsResolved.WithLabelValues(model.LinkUnresolved).Inc()
			return link
		}
		// Malformed URL: permanent.
		link.State = model.LinkInvalid
		infraPrometheus.URLsResolved.WithLabelValues(model.LinkInvalid).Inc()
		return link
	}

	link.FinalURL = finalURL
	product, err := r.parser.Product(finalURL)
	if err != nil {
		link.State = model.LinkNonProduct
		infraPrometheus.URLsResolved.WithLabelValues(model.LinkNonProduct).Inc()
		return link
	}

	link.State = model.LinkProduct
	link.Store = product.Root
	link.ProductRef = product.Canonical
	infraPrometheus.URLsResolved.WithLabelValues(model.LinkProduct).Inc()
	return link
}

// writeOutcomes persists every resolution outcome in one batch write.
// Only product links earn a durable row. Other settled outcomes stay
// volatile, re-resolving after cache expiry, and unresolved ones get a
// short TTL so they retry on their own schedule.
func (r *LinkResolver) writeOutcomes(ctx context.Context, order []string, links map[string]*model.ResolvedLink) error {
	var products, settled, unresolved []cache.Entry
	for _, rawURL := range order {
		link, ok := links[rawURL]
		if !ok {
			continue
		}
		data, err := json.Marshal(link)
		if err != nil {
			r.logger.Error("failed to encode resolved link",
				zap.String("url", rawURL), zap.Error(err))
			continue
		}
		entry := cache.Entry{Key: cache.Key(cache.NSLink, rawURL), Value: data}
		switch {
		case link.IsProduct():
			products = append(products, entry)
		case link.Settled():
			settled = append(settled, entry)
		default:
			unresolved = append(unresolved, entry)
		}
	}

	if err := r.gateway.Put(ctx, products, cache.AllTiers, 0); err != nil {
		return fmt.Errorf("persist resolved links: %w", err)
	}
	if err := r.gateway.Put(ctx, settled, cache.VolatileTiers, 0); err != nil {
		return fmt.Errorf("cache settled links: %w", err)
	}
	return r.gateway.Put(ctx, unresolved, cache.VolatileTiers, unresolvedTTL)
}

func (r *LinkResolver) emitCounts(ctx context.Context, order []string, links map[string]*model.ResolvedLink,
	posters map[string][]string, banned *model.BanList) error {
	var mentions []model.ResolvedMention
	for _, rawURL := range order {
		link, ok := links[rawURL]
		if !ok || !link.IsProduct() {
			continue
		}
		if banned.HasProduct(link.ProductRef) {
			infraPrometheus.MentionsDropped.WithLabelValues("banned_product").Inc()
			continue
		}
		for _, posterID := range posters[rawURL] {
			mentions = append(mentions, model.ResolvedMention{
				ProductRef: link.ProductRef,
				Store:      link.Store,
				PosterID:   posterID,
			})
		}
	}
	if len(mentions) == 0 {
		return nil
	}

	return r.publisher.Publish(ctx, model.SubjectCountMentions, model.CountBatch{
		ID:       uuid.New().String(),
		Mentions: mentions,
		Date:     r.now().UTC(),
	})
}

func firstPoster(posters []string) string {
	if len(posters) == 0 {
		return ""
	}
	return posters[0]
}
