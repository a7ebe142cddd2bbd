// Package memory implements the retrieval engine over the metadata and
// vector stores: ranked semantic retrieval, dual-store writes, and lazy
// self-healing when the two stores drift apart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/recall/internal/events"
	"github.com/haasonsaas/recall/internal/observability"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/internal/vector"
	"github.com/haasonsaas/recall/pkg/models"
)

// Embedder produces embedding vectors. The LLM router satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures NewService. Zero values take the defaults.
type Options struct {
	Weights        Weights
	DefaultLimit   int    // default 10
	MaxSearch      int    // default 50, caps the candidate set K
	CacheSize      int    // query embedding LRU entries, default 1000
	SelfHealBatch  int    // unindexed records re-embedded per retrieval, default 20
	EmbeddingModel string // recorded on embedding records

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Bus     *events.Bus
}

// Service is the memory retrieval engine.
type Service struct {
	meta    *store.Store
	vectors *vector.Store
	embed   Embedder

	weights       Weights
	defaultLimit  int
	maxSearch     int
	selfHealBatch int
	model         string

	cache   *embeddingCache
	logger  *observability.Logger
	metrics *observability.Metrics
	bus     *events.Bus

	now func() time.Time
}

// NewService wires the dual-store engine.
func NewService(meta *store.Store, vectors *vector.Store, embed Embedder, opts Options) *Service {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxSearch <= 0 {
		opts.MaxSearch = 50
	}
	if opts.SelfHealBatch <= 0 {
		opts.SelfHealBatch = 20
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Service{
		meta:          meta,
		vectors:       vectors,
		embed:         embed,
		weights:       opts.Weights,
		defaultLimit:  opts.DefaultLimit,
		maxSearch:     opts.MaxSearch,
		selfHealBatch: opts.SelfHealBatch,
		model:         opts.EmbeddingModel,
		cache:         newEmbeddingCache(opts.CacheSize),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		bus:           opts.Bus,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// StoreInput describes one memory to store.
type StoreInput struct {
	Content    string
	Category   models.Category
	SourceType models.SourceType
	SourceID   string
	Importance int
	Metadata   map[string]any
}

// Store validates and persists one memory. The metadata row is
// authoritative: embedding or vector failures leave the item recorded with
// indexed=false and self-healing indexes it on a later retrieval.
func (s *Service) Store(ctx context.Context, in StoreInput) (*models.MemoryItem, error) {
	item := &models.MemoryItem{
		Content:    in.Content,
		Category:   in.Category,
		SourceType: in.SourceType,
		SourceID:   in.SourceID,
		Importance: in.Importance,
		Metadata:   in.Metadata,
	}
	if err := s.meta.CreateMemoryItem(ctx, item); err != nil {
		return nil, err
	}

	indexed := s.index(ctx, item)
	rec := &models.EmbeddingRecord{
		SourceType: models.SourceMemoryItem,
		SourceID:   item.ID,
		Model:      s.model,
		Indexed:    indexed,
	}
	if err := s.meta.UpsertEmbeddingRecord(ctx, rec); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MemoriesStored.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.TopicMemoryStored, map[string]any{
			"id": item.ID, "category": string(item.Category), "indexed": indexed,
		})
	}
	return item, nil
}

// StoreBatch persists memories in input order; the returned items preserve
// that order. A failed item aborts the batch at that point.
func (s *Service) StoreBatch(ctx context.Context, inputs []StoreInput) ([]*models.MemoryItem, error) {
	items := make([]*models.MemoryItem, 0, len(inputs))
	for i, in := range inputs {
		item, err := s.Store(ctx, in)
		if err != nil {
			return items, fmt.Errorf("store item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// index embeds the item and inserts its vector. Returns whether the item
// is now indexed. Failures are logged, never fatal.
func (s *Service) index(ctx context.Context, item *models.MemoryItem) bool {
	embedding, err := s.embed.Embed(ctx, item.Content)
	if err != nil || len(embedding) == 0 {
		s.logger.Warn(ctx, "embedding failed, item stored unindexed", "id", item.ID, "error", err)
		return false
	}
	meta := map[string]any{"category": string(item.Category)}
	if item.SourceType != "" {
		meta["source_type"] = string(item.SourceType)
	}
	if item.SourceID != "" {
		meta["source_id"] = item.SourceID
	}
	if cid, ok := item.Metadata["conversation_id"]; ok {
		meta["conversation_id"] = cid
	}
	rec := &vector.Record{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: embedding,
		Metadata:  meta,
		CreatedAt: item.CreatedAt,
	}
	if err := s.vectors.Add(ctx, rec); err != nil {
		s.logger.Warn(ctx, "vector insert failed, item stored unindexed", "id", item.ID, "error", err)
		return false
	}
	return true
}

// RetrieveOptions narrows context retrieval. ConversationID is a soft
// scope: items from other conversations are excluded, items with no
// conversation linkage stay eligible.
type RetrieveOptions struct {
	Limit          int
	Categories     []models.Category
	Filters        map[string]any
	ConversationID string
}

// RetrievedContext is the retrieval result: ranked items and a formatted
// block whose bullets correspond one to one with Items.
type RetrievedContext struct {
	Items            []*models.ScoredMemory
	FormattedContext string
}

// RetrieveContext runs the ranked retrieval pipeline: embed the query,
// gather K = min(limit*3, maxSearch) candidates, score them by similarity,
// recency, and importance, and return the top limit. Self-healing runs on
// every pass.
func (s *Service) RetrieveContext(ctx context.Context, query string, opts RetrieveOptions) (*RetrievedContext, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	k := limit * 3
	if k > s.maxSearch {
		k = s.maxSearch
	}

	filters := make(map[string]any, len(opts.Filters)+2)
	for key, v := range opts.Filters {
		filters[key] = v
	}
	if len(opts.Categories) == 1 {
		filters["category"] = string(opts.Categories[0])
	}

	results, err := s.vectors.SearchByVector(ctx, embedding, vector.SearchOptions{
		Limit:   k,
		Filters: filters,
	})
	if err != nil {
		// Vector reads degrade instead of failing the request.
		s.degradedRead(ctx, err)
		return &RetrievedContext{}, nil
	}

	allowed := map[models.Category]bool{}
	for _, c := range opts.Categories {
		allowed[c] = true
	}

	now := s.now()
	var scored []*models.ScoredMemory
	for _, res := range results {
		item, err := s.meta.GetMemoryItem(ctx, res.Record.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Orphaned vector: metadata row is gone, so the vector goes too.
			s.healOrphan(ctx, res.Record.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(allowed) > 1 && !allowed[item.Category] {
			continue
		}
		if opts.ConversationID != "" {
			if cid, ok := item.Metadata["conversation_id"]; ok && fmt.Sprint(cid) != opts.ConversationID {
				continue
			}
		}
		scored = append(scored, &models.ScoredMemory{
			Item:       item,
			Similarity: float64(res.Similarity),
			Score:      s.weights.score(res.Similarity, item.CreatedAt, item.Importance, now),
		})
	}

	rank(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	s.healUnindexed(ctx)

	items := make([]*models.MemoryItem, len(scored))
	for i, sm := range scored {
		items[i] = sm.Item
	}

	if s.metrics != nil {
		s.metrics.MemoriesRetrieved.Add(float64(len(scored)))
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.TopicMemoryRetrieved, map[string]any{
			"query_len": len(query), "returned": len(scored),
		})
	}
	return &RetrievedContext{
		Items:            scored,
		FormattedContext: formatContext(items),
	}, nil
}

// Search is plain semantic search without the recency and importance terms.
func (s *Service) Search(ctx context.Context, query string, limit int, filters map[string]any) ([]*models.ScoredMemory, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	embedding, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.vectors.SearchByVector(ctx, embedding, vector.SearchOptions{
		Limit:   limit,
		Filters: filters,
	})
	if err != nil {
		s.degradedRead(ctx, err)
		return nil, nil
	}

	var out []*models.ScoredMemory
	for _, res := range results {
		item, err := s.meta.GetMemoryItem(ctx, res.Record.ID)
		if errors.Is(err, store.ErrNotFound) {
			s.healOrphan(ctx, res.Record.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &models.ScoredMemory{
			Item:       item,
			Similarity: float64(res.Similarity),
			Score:      float64(res.Similarity),
		})
	}
	return out, nil
}

func (s *Service) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if vec, ok := s.cache.get(query); ok {
		return vec, nil
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	s.cache.set(query, vec)
	return vec, nil
}

// degradedRead records a failed vector search. Callers return an empty
// result instead of an error so the request can proceed without memories.
func (s *Service) degradedRead(ctx context.Context, err error) {
	s.logger.Warn(ctx, "vector search failed, returning no memories", "error", err)
	if s.bus != nil {
		s.bus.Publish(ctx, events.TopicVectorReadDegraded, map[string]any{
			"error": err.Error(),
		})
	}
}

// healOrphan deletes a vector whose metadata row no longer exists.
func (s *Service) healOrphan(ctx context.Context, id string) {
	if err := s.vectors.Delete(ctx, id); err != nil {
		s.logger.Warn(ctx, "failed to delete orphan vector", "id", id, "error", err)
		return
	}
	s.logger.Info(ctx, "deleted orphan vector", "id", id)
	if s.metrics != nil {
		s.metrics.SelfHeals.Inc()
	}
}

// healUnindexed re-embeds a batch of items whose vectors are missing.
// Best effort: failures stay unindexed for the next pass.
func (s *Service) healUnindexed(ctx context.Context) {
	records, err := s.meta.ListUnindexed(ctx, s.selfHealBatch)
	if err != nil {
		s.logger.Warn(ctx, "failed to list unindexed records", "error", err)
		return
	}
	for _, rec := range records {
		if rec.SourceType != models.SourceMemoryItem {
			continue
		}
		item, err := s.meta.GetMemoryItem(ctx, rec.SourceID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn(ctx, "self-heal read failed", "id", rec.SourceID, "error", err)
			continue
		}
		if !s.index(ctx, item) {
			continue
		}
		if err := s.meta.MarkIndexed(ctx, rec.SourceType, rec.SourceID, true); err != nil {
			s.logger.Warn(ctx, "self-heal mark failed", "id", rec.SourceID, "error", err)
			continue
		}
		s.logger.Info(ctx, "re-indexed memory", "id", rec.SourceID)
		if s.metrics != nil {
			s.metrics.SelfHeals.Inc()
		}
	}
}

// UpdateInput carries the mutable fields of Update. Nil pointers leave the
// stored value untouched.
type UpdateInput struct {
	Content    *string
	Category   *models.Category
	Importance *int
	Metadata   map[string]any
}

// Update rewrites a memory. A content change re-embeds synchronously so
// search never returns a vector for stale text.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.MemoryItem, error) {
	item, err := s.meta.GetMemoryItem(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := in.Content != nil && *in.Content != item.Content
	if in.Content != nil {
		item.Content = *in.Content
	}
	if in.Category != nil {
		item.Category = *in.Category
	}
	if in.Importance != nil {
		item.Importance = *in.Importance
	}
	if in.Metadata != nil {
		item.Metadata = in.Metadata
	}

	if err := s.meta.UpdateMemoryItem(ctx, item); err != nil {
		return nil, err
	}

	if contentChanged {
		indexed := s.index(ctx, item)
		rec := &models.EmbeddingRecord{
			SourceType: models.SourceMemoryItem,
			SourceID:   item.ID,
			Model:      s.model,
			Indexed:    indexed,
		}
		if err := s.meta.UpsertEmbeddingRecord(ctx, rec); err != nil {
			return nil, err
		}
	} else if in.Category != nil || in.Metadata != nil {
		// Keep vector-side filter metadata in step without re-embedding.
		meta := map[string]any{"category": string(item.Category)}
		if item.SourceType != "" {
			meta["source_type"] = string(item.SourceType)
		}
		if item.SourceID != "" {
			meta["source_id"] = item.SourceID
		}
		if cid, ok := item.Metadata["conversation_id"]; ok {
			meta["conversation_id"] = cid
		}
		if err := s.vectors.Update(ctx, item.ID, "", nil, meta); err != nil && !errors.Is(err, vector.ErrNotFound) {
			s.logger.Warn(ctx, "vector metadata update failed", "id", item.ID, "error", err)
		}
	}
	return item, nil
}

// Delete removes a memory from all three stores. The metadata row and
// embedding record go in one transaction committed only after the vector
// delete succeeds, so a vector-store failure leaves everything intact.
func (s *Service) Delete(ctx context.Context, id string) error {
	commit, rollback, err := s.meta.DeleteMemoryItemTx(ctx, id)
	if err != nil {
		return err
	}
	if err := s.vectors.Delete(ctx, id); err != nil {
		rollback()
		return fmt.Errorf("delete vector: %w", err)
	}
	if err := commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	if s.metrics != nil {
		s.metrics.MemoriesDeleted.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.TopicMemoryDeleted, map[string]any{"id": id})
	}
	return nil
}

// Get returns one memory by id.
func (s *Service) Get(ctx context.Context, id string) (*models.MemoryItem, error) {
	return s.meta.GetMemoryItem(ctx, id)
}

// GetByCategory lists memories of one category, newest first.
func (s *Service) GetByCategory(ctx context.Context, category models.Category, limit int) ([]*models.MemoryItem, error) {
	return s.meta.ListMemoryItems(ctx, store.MemoryFilter{Categories: []models.Category{category}}, limit, 0)
}

// GetBySource lists memories tied to one source entity.
func (s *Service) GetBySource(ctx context.Context, sourceType models.SourceType, sourceID string) ([]*models.MemoryItem, error) {
	return s.meta.ListMemoryItems(ctx, store.MemoryFilter{SourceType: sourceType, SourceID: sourceID}, 0, 0)
}

// GetByImportance lists memories at or above the given level.
func (s *Service) GetByImportance(ctx context.Context, min int, limit int) ([]*models.MemoryItem, error) {
	return s.meta.ListMemoryItems(ctx, store.MemoryFilter{MinImportance: min}, limit, 0)
}

// Recent lists the most recently created memories.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.MemoryItem, error) {
	return s.meta.ListMemoryItems(ctx, store.MemoryFilter{}, limit, 0)
}

// MarkImportant raises a memory's importance to level. It never lowers:
// marking something important is a one-way door unless Update is used
// explicitly.
func (s *Service) MarkImportant(ctx context.Context, id string, level int) error {
	if level < models.MinImportance || level > models.MaxImportance {
		return store.Constraint("importance %d out of range", level)
	}
	item, err := s.meta.GetMemoryItem(ctx, id)
	if err != nil {
		return err
	}
	if level <= item.Importance {
		return nil
	}
	return s.meta.SetMemoryImportance(ctx, id, level)
}

// Count returns the number of memories matching the filter.
func (s *Service) Count(ctx context.Context, f store.MemoryFilter) (int64, error) {
	return s.meta.CountMemoryItems(ctx, f)
}

// CountByCategory returns per-category counts.
func (s *Service) CountByCategory(ctx context.Context) (map[models.Category]int64, error) {
	return s.meta.CountMemoryByCategory(ctx)
}
