// Package aggregator assembles the budgeted, tiered context handed to the
// generation step and caches the result per artifact set.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/artifact-context/internal/artifact"
	"github.com/nidhogg/artifact-context/internal/budget"
	"github.com/nidhogg/artifact-context/internal/cache"
	"github.com/nidhogg/artifact-context/internal/catalog"
	"github.com/nidhogg/artifact-context/internal/planner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCacheWriteTimeout bounds a background cache write.
const DefaultCacheWriteTimeout = 2 * time.Second

// Engine aggregates context. It holds no per-request state; concurrent calls
// for the same key may both recompute and overwrite the cached snapshot.
type Engine struct {
	registry     *catalog.Registry
	planner      *planner.Planner
	store        ArtifactStore
	enforcer     *budget.Enforcer
	cache        cache.Cache
	prefix       PrefixProvider
	writeTimeout time.Duration
	pending      sync.WaitGroup
	logger       *zap.Logger
}

// NewEngine creates an engine without cache or prefix provider.
func NewEngine(reg *catalog.Registry, store ArtifactStore, enforcer *budget.Enforcer, logger *zap.Logger) *Engine {
	return &Engine{
		registry:     reg,
		planner:      planner.New(reg),
		store:        store,
		enforcer:     enforcer,
		writeTimeout: DefaultCacheWriteTimeout,
		logger:       logger,
	}
}

// SetCache enables result caching. A non-positive writeTimeout keeps the default.
func (e *Engine) SetCache(c cache.Cache, writeTimeout time.Duration) {
	e.cache = c
	if writeTimeout > 0 {
		e.writeTimeout = writeTimeout
	}
}

// SetPrefixProvider installs the source of the opaque leading section.
func (e *Engine) SetPrefixProvider(p PrefixProvider) { e.prefix = p }

// Planner returns the dependency planner over the engine's catalog.
func (e *Engine) Planner() *planner.Planner { return e.planner }

// Registry returns the engine's catalog.
func (e *Engine) Registry() *catalog.Registry { return e.registry }

// Wait blocks until in-flight background cache writes finish.
func (e *Engine) Wait() { e.pending.Wait() }

// Aggregate builds the context for targetID from userID's artifacts. When
// useCache is set a cached snapshot for the same artifact set is returned as
// is; otherwise the cache is bypassed for reading but still refreshed.
// Missing dependencies, cache failures and prefix failures degrade the
// result instead of failing it. Only an unknown target or an unreachable
// artifact store return an error.
func (e *Engine) Aggregate(ctx context.Context, userID, targetID string, useCache bool) (*AggregatedContext, error) {
	start := time.Now()
	if _, err := e.registry.MustLookup(targetID); err != nil {
		return nil, err
	}

	ids, err := e.store.ListArtifactIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for %s: %w", userID, err)
	}
	key := cache.Key{UserID: userID, TargetID: targetID, SetHash: ArtifactSetHash(ids)}

	if useCache {
		if hit, ok := e.lookup(ctx, key); ok {
			hit.CacheHit = true
			hit.ComputeLatency = time.Since(start)
			e.logger.Debug("context cache hit",
				zap.String("user", userID),
				zap.String("target", targetID),
				zap.Duration("latency", hit.ComputeLatency))
			return hit, nil
		}
	}

	ta, explicit, err := e.registry.TierConfig(targetID)
	if err != nil {
		return nil, err
	}
	if !explicit {
		e.logger.Debug("no tier assignment registered, using default", zap.String("target", targetID))
	}

	var (
		records []artifact.Record
		prefix  string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := e.store.ListArtifacts(gctx, userID)
		if err != nil {
			return fmt.Errorf("fetch artifacts for %s: %w", userID, err)
		}
		records = recs
		return nil
	})
	g.Go(func() error {
		prefix = e.fetchPrefix(gctx, userID, targetID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := e.assemble(userID, targetID, ta, records, prefix)
	result.RequestID = uuid.NewString()
	result.ArtifactSetHash = key.SetHash
	result.ExplicitTiers = explicit
	result.ComputedAt = time.Now()
	result.ComputeLatency = time.Since(start)

	e.logger.Info("aggregated context",
		zap.String("user", userID),
		zap.String("target", targetID),
		zap.Int("total_tokens", result.TotalTokens),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("evicted", len(result.Evicted)),
		zap.Duration("latency", result.ComputeLatency))

	e.storeAsync(key, result)
	return result, nil
}

// assemble runs the tiering and budgeting over fetched records.
func (e *Engine) assemble(userID, targetID string, ta catalog.TierAssignment, records []artifact.Record, prefix string) *AggregatedContext {
	index := artifact.Index(records)
	res := &AggregatedContext{UserID: userID, TargetID: targetID}

	collect := func(ids []string) []budget.Source {
		var out []budget.Source
		for _, id := range ids {
			rec, ok := index[id]
			if !ok {
				res.Skipped = append(res.Skipped, id)
				e.logger.Info("dependency not produced yet, skipping",
					zap.String("user", userID),
					zap.String("target", targetID),
					zap.String("dependency", id))
				continue
			}
			out = append(out, budget.Source{
				ID:      id,
				Name:    e.displayName(id, rec),
				Output:  rec.Output,
				Summary: rec.OutputSummary,
			})
		}
		return out
	}

	critical := collect(ta.Critical)
	required := collect(ta.Required)
	optional := collect(ta.Optional)

	t1 := e.enforcer.BuildHard(budget.TierCritical, critical, ta.Budget.Tier1)
	t2 := e.enforcer.BuildHard(budget.TierRequired, required, ta.Budget.Tier2)
	t3 := e.enforcer.BuildLossy(optional, ta.Budget.Tier3)

	res.Tier1, res.Tier2, res.Tier3 = t1.Entries, t2.Entries, t3.Entries
	res.Evicted = t3.Evicted
	res.Breakdown = TokenBreakdown{
		Tier1:    t1.Tokens,
		Tier2:    t2.Tokens,
		Tier3:    t3.Tokens,
		External: e.enforcer.Estimator().Estimate(prefix),
	}
	res.TotalTokens = res.Breakdown.Total()
	res.FormattedText = formatContext(prefix, res.Tier1, res.Tier2, res.Tier3)
	return res
}

func (e *Engine) displayName(id string, rec artifact.Record) string {
	if rec.Name != "" {
		return rec.Name
	}
	if n, ok := e.registry.Lookup(id); ok {
		return n.Name
	}
	return id
}

func (e *Engine) fetchPrefix(ctx context.Context, userID, targetID string) string {
	if e.prefix == nil {
		return ""
	}
	p, err := e.prefix.Prefix(ctx, userID, targetID)
	if err != nil {
		e.logger.Warn("prefix provider failed, continuing without it",
			zap.String("user", userID),
			zap.String("target", targetID),
			zap.Error(err))
		return ""
	}
	return p
}

// lookup reads a snapshot; every failure is treated as a miss.
func (e *Engine) lookup(ctx context.Context, key cache.Key) (*AggregatedContext, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache read failed, recomputing", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Context == nil {
		e.logger.Warn("discarding unreadable cache entry", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	return entry.Context, true
}

// storeAsync snapshots result and writes it in the background. Failures are
// logged and never reach the caller.
func (e *Engine) storeAsync(key cache.Key, result *AggregatedContext) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(cacheEntry{Context: result, StoredAt: time.Now()})
	if err != nil {
		e.logger.Warn("encode cache entry", zap.Error(err))
		return
	}

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
		defer cancel()
		if err := e.cache.Set(ctx, key, data); err != nil {
			e.logger.Warn("cache write failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()
}

// InvalidateUser drops every cached aggregation for userID.
func (e *Engine) InvalidateUser(ctx context.Context, userID string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.InvalidateUser(ctx, userID)
}

// Analytics reports the size and cost of the aggregation for targetID and
// how much it saves compared with including every artifact the user owns.
// The prefix section is sent either way, so both the naive and optimized
// totals include it.
func (e *Engine) Analytics(ctx context.Context, userID, targetID string) (*Analytics, error) {
	res, err := e.Aggregate(ctx, userID, targetID, true)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListArtifacts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch artifacts for %s: %w", userID, err)
	}

	est := e.enforcer.Estimator()
	naive := res.Breakdown.External
	for _, r := range records {
		naive += est.Estimate(budget.Serialize(r.Output))
	}

	cost, err := e.planner.CalculateGenerationCost(targetID, catalog.NewIDSet(artifact.IDs(records)...))
	if err != nil {
		return nil, err
	}

	opt := Optimization{NaiveTotalTokens: naive, OptimizedTokens: res.TotalTokens}
	if saved := naive - res.TotalTokens; saved > 0 {
		opt.TokensSaved = saved
		opt.SavingsPercent = math.Round(float64(saved)/float64(naive)*1000) / 10
	}

	return &Analytics{
		UserID:          userID,
		TargetID:        targetID,
		EstimatedTokens: res.TotalTokens,
		EstimatedCost:   cost.TotalCost,
		Breakdown:       res.Breakdown,
		Optimization:    opt,
	}, nil
}
