package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/artifact-context/internal/artifact"
	"github.com/nidhogg/artifact-context/internal/budget"
	"github.com/nidhogg/artifact-context/internal/cache"
	"github.com/nidhogg/artifact-context/internal/catalog"
	"github.com/nidhogg/artifact-context/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func text(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func newTestEngine(t *testing.T, reg *catalog.Registry, logger *zap.Logger) (*Engine, *store.MemoryStore) {
	t.Helper()
	if reg == nil {
		var err error
		reg, err = catalog.Default()
		if err != nil {
			t.Fatalf("load catalog: %v", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	est := budget.CharEstimator{}
	enf := budget.NewEnforcer(est, budget.NewHeuristicSummarizer(est), budget.DefaultSummaryTarget, logger)
	ms := store.NewMemoryStore()
	return NewEngine(reg, ms, enf, logger), ms
}

func seed(t *testing.T, ms *store.MemoryStore, userID string, recs map[string]json.RawMessage) {
	t.Helper()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for i, id := range ids {
		err := ms.SaveArtifact(context.Background(), artifact.Record{
			UserID:     userID,
			ID:         id,
			ProducedAt: base.Add(time.Duration(i) * time.Minute),
			Output:     recs[id],
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func entryIDs(entries []budget.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestAggregateICPAnalysis(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	inputs := map[string]string{
		"product-name":        "Acme CRM",
		"product-description": "A CRM for small sales teams",
		"target-market":       "SMB B2B",
	}
	raw := map[string]json.RawMessage{}
	want := 0
	for id, s := range inputs {
		raw[id] = text(s)
		want += (len(s) + 3) / 4
	}
	seed(t, ms, "u1", raw)

	res, err := e.Aggregate(context.Background(), "u1", "icp-analysis", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tier1) != 3 || len(res.Tier2) != 0 || len(res.Tier3) != 0 {
		t.Fatalf("tiers = %d/%d/%d, want 3/0/0", len(res.Tier1), len(res.Tier2), len(res.Tier3))
	}
	if res.TotalTokens != want {
		t.Errorf("total tokens = %d, want %d", res.TotalTokens, want)
	}
	if !res.ExplicitTiers {
		t.Error("icp-analysis should use its explicit assignment")
	}
	if !strings.Contains(res.FormattedText, headingCritical) || strings.Contains(res.FormattedText, headingRequired) {
		t.Errorf("unexpected formatted text:\n%s", res.FormattedText)
	}
	if !strings.Contains(res.FormattedText, "Acme CRM") {
		t.Error("verbatim content missing from formatted text")
	}
}

func TestAggregatePersonasWithoutArtifacts(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)

	v, err := e.Planner().ValidateDependencies("target-buyer-personas", catalog.NewIDSet())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(v.MissingRequired, "icp-analysis") {
		t.Fatalf("missing required = %v", v.MissingRequired)
	}

	res, err := e.Aggregate(context.Background(), "nobody", "target-buyer-personas", true)
	if err != nil {
		t.Fatalf("aggregate must not fail on missing dependencies: %v", err)
	}
	if res == nil || len(res.Tier2) != 0 {
		t.Fatalf("got %+v, want empty tier 2", res)
	}
	if !slices.Contains(res.Skipped, "icp-analysis") {
		t.Errorf("skipped = %v, want icp-analysis", res.Skipped)
	}

	seed(t, ms, "u2", map[string]json.RawMessage{
		"product-name":        text("Acme"),
		"product-description": text("Widgets"),
	})
	res, err = e.Aggregate(context.Background(), "u2", "target-buyer-personas", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.FormattedText == "" || len(res.Tier1) != 2 || len(res.Tier2) != 0 {
		t.Errorf("got tiers %v/%v, text %q", entryIDs(res.Tier1), entryIDs(res.Tier2), res.FormattedText)
	}
}

func TestAggregateUnknownTarget(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	_, err := e.Aggregate(context.Background(), "u1", "ghost", true)
	if !errors.Is(err, catalog.ErrUnknownResource) {
		t.Fatalf("got %v, want ErrUnknownResource", err)
	}
}

type failingStore struct{}

func (failingStore) ListArtifactIDs(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) ListArtifacts(context.Context, string) ([]artifact.Record, error) {
	return nil, errors.New("connection refused")
}

func TestAggregateStoreFailure(t *testing.T) {
	reg, _ := catalog.Default()
	est := budget.CharEstimator{}
	enf := budget.NewEnforcer(est, budget.NewHeuristicSummarizer(est), 0, zap.NewNop())
	e := NewEngine(reg, failingStore{}, enf, zap.NewNop())
	if _, err := e.Aggregate(context.Background(), "u1", "icp-analysis", true); err == nil {
		t.Fatal("expected store error")
	}
}

func TestAggregateCacheHit(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	mc := cache.NewMemoryCache(0)
	e.SetCache(mc, 0)
	seed(t, ms, "u1", map[string]json.RawMessage{
		"product-name":        text("Acme"),
		"product-description": text("Widgets for teams"),
		"icp-analysis":        json.RawMessage(`{"segment":"mid-market","roles":["VP Sales","RevOps"]}`),
	})
	ctx := context.Background()

	first, err := e.Aggregate(ctx, "u1", "target-buyer-personas", true)
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Fatal("first call cannot be a cache hit")
	}
	e.Wait()
	if mc.Len() != 1 {
		t.Fatalf("cache has %d entries, want 1", mc.Len())
	}

	second, err := e.Aggregate(ctx, "u1", "target-buyer-personas", true)
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit {
		t.Fatal("second call should hit the cache")
	}
	if second.FormattedText != first.FormattedText || second.RequestID != first.RequestID {
		t.Error("cached snapshot differs from the computed result")
	}
	if second.ComputeLatency > time.Second {
		t.Errorf("cache hit took %s", second.ComputeLatency)
	}

	// Bypassing the cache recomputes.
	third, err := e.Aggregate(ctx, "u1", "target-buyer-personas", false)
	if err != nil {
		t.Fatal(err)
	}
	if third.CacheHit || third.RequestID == first.RequestID {
		t.Error("useCache=false must recompute")
	}
	e.Wait()

	// A newly produced artifact changes the set hash and misses.
	seed(t, ms, "u1", map[string]json.RawMessage{"market-research": text("TAM is large")})
	fourth, err := e.Aggregate(ctx, "u1", "target-buyer-personas", true)
	if err != nil {
		t.Fatal(err)
	}
	if fourth.CacheHit {
		t.Error("new artifact should invalidate the cached snapshot")
	}
	if len(fourth.Tier3) != 1 {
		t.Errorf("tier3 = %v, want market-research", entryIDs(fourth.Tier3))
	}
	e.Wait()

	n, err := e.InvalidateUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("invalidated %d entries, want 2", n)
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, cache.Key) ([]byte, bool, error) {
	return nil, false, errors.New("redis down")
}

func (brokenCache) Set(context.Context, cache.Key, []byte) error {
	return errors.New("redis down")
}

func (brokenCache) InvalidateUser(context.Context, string) (int, error) {
	return 0, errors.New("redis down")
}

func TestAggregateSurvivesCacheFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e, ms := newTestEngine(t, nil, zap.New(core))
	e.SetCache(brokenCache{}, time.Second)
	seed(t, ms, "u1", map[string]json.RawMessage{"product-name": text("Acme")})

	res, err := e.Aggregate(context.Background(), "u1", "icp-analysis", true)
	if err != nil {
		t.Fatalf("cache failure leaked to caller: %v", err)
	}
	if len(res.Tier1) != 1 {
		t.Errorf("tier1 = %v", entryIDs(res.Tier1))
	}
	e.Wait()
	if logs.FilterMessage("cache read failed, recomputing").Len() != 1 {
		t.Error("expected cache read warning")
	}
	if logs.FilterMessage("cache write failed").Len() != 1 {
		t.Error("expected cache write warning")
	}
}

func TestArtifactSetHash(t *testing.T) {
	a := ArtifactSetHash([]string{"icp-analysis", "product-name"})
	b := ArtifactSetHash([]string{"product-name", "icp-analysis", "product-name"})
	if a != b {
		t.Error("hash must ignore order and duplicates")
	}
	if c := ArtifactSetHash([]string{"icp-analysis", "product-name", "market-research"}); c == a {
		t.Error("adding an id must change the hash")
	}
	if ArtifactSetHash(nil) == a {
		t.Error("empty set collides")
	}
	if ArtifactSetHash([]string{"ab", "c"}) == ArtifactSetHash([]string{"a", "bc"}) {
		t.Error("id boundaries are ambiguous")
	}
}

func TestContentEditKeepsHash(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	e.SetCache(cache.NewMemoryCache(0), 0)
	ctx := context.Background()
	seed(t, ms, "u1", map[string]json.RawMessage{"product-name": text("Old name")})

	first, _ := e.Aggregate(ctx, "u1", "icp-analysis", true)
	e.Wait()
	seed(t, ms, "u1", map[string]json.RawMessage{"product-name": text("New name")})
	second, _ := e.Aggregate(ctx, "u1", "icp-analysis", true)

	if first.ArtifactSetHash != second.ArtifactSetHash {
		t.Fatal("content edit changed the set hash")
	}
	// Known limitation: the edited content is not visible until the id set changes.
	if !second.CacheHit || !strings.Contains(second.FormattedText, "Old name") {
		t.Error("expected the stale snapshot to be served")
	}
}

func TestAggregatePrefixComesFirst(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	e.SetPrefixProvider(PrefixFunc(func(_ context.Context, userID, targetID string) (string, error) {
		return "## Buyer Urgency\nQuarter-end pressure.", nil
	}))
	seed(t, ms, "u1", map[string]json.RawMessage{
		"product-name": text("Acme"),
		"icp-analysis": text("Mid-market SaaS"),
	})

	res, err := e.Aggregate(context.Background(), "u1", "target-buyer-personas", false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.FormattedText, "## Buyer Urgency") {
		t.Errorf("prefix not first:\n%s", res.FormattedText)
	}
	crit := strings.Index(res.FormattedText, headingCritical)
	req := strings.Index(res.FormattedText, headingRequired)
	if crit < 0 || req < 0 || crit > req {
		t.Errorf("tier sections out of order:\n%s", res.FormattedText)
	}
	if res.Breakdown.External == 0 {
		t.Error("prefix tokens not counted")
	}
	if res.TotalTokens != res.Breakdown.Total() {
		t.Errorf("total %d != breakdown %d", res.TotalTokens, res.Breakdown.Total())
	}
}

func TestAggregatePrefixFailureIsIgnored(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	e.SetPrefixProvider(PrefixFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("extractor timeout")
	}))
	seed(t, ms, "u1", map[string]json.RawMessage{"product-name": text("Acme")})

	res, err := e.Aggregate(context.Background(), "u1", "icp-analysis", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Breakdown.External != 0 || !strings.HasPrefix(res.FormattedText, headingCritical) {
		t.Errorf("unexpected result: %+v", res.Breakdown)
	}
}

const evictionCatalog = `
inputs: [product-name, product-description]
resources:
  - {id: big-core, tier: 1, required: [product-name]}
  - {id: opt-a, tier: 1}
  - {id: opt-b, tier: 1}
  - {id: opt-c, tier: 1}
  - id: target
    tier: 2
    required: [big-core]
    optional: [opt-a, opt-b, opt-c]
tiers:
  target:
    tier1: [product-name]
    tier2: [big-core]
    tier3: [opt-a, opt-b, opt-c]
    budget: {tier1: 1, tier2: 10, tier3: 500, total: 511}
`

func TestAggregateEvictsOnlyTier3(t *testing.T) {
	reg, err := catalog.Parse([]byte(evictionCatalog))
	if err != nil {
		t.Fatal(err)
	}
	e, ms := newTestEngine(t, reg, nil)
	seed(t, ms, "u1", map[string]json.RawMessage{
		"product-name": text(strings.Repeat("n", 100)),
		"big-core":     text(strings.Repeat("c", 4000)),
		"opt-a":        text(strings.Repeat("a", 800)),
		"opt-b":        text(strings.Repeat("b", 800)),
		"opt-c":        text(strings.Repeat("z", 800)),
	})

	res, err := e.Aggregate(context.Background(), "u1", "target", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tier1) != 1 || len(res.Tier2) != 1 {
		t.Fatalf("hard tiers lost entries: %v / %v", entryIDs(res.Tier1), entryIDs(res.Tier2))
	}
	if res.Tier2[0].TokenCount != 1000 {
		t.Errorf("tier2 content altered: %d tokens", res.Tier2[0].TokenCount)
	}
	if len(res.Evicted) != 1 || len(res.Tier3) != 2 {
		t.Errorf("evicted %v, kept %v", res.Evicted, entryIDs(res.Tier3))
	}
	if res.Breakdown.Tier3 > 500 {
		t.Errorf("tier3 = %d tokens, budget 500", res.Breakdown.Tier3)
	}
	if !strings.Contains(res.FormattedText, headingOptional) {
		t.Error("summarized heading missing")
	}
}

func TestAnalytics(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	seed(t, ms, "u1", map[string]json.RawMessage{
		"product-name":        text("Acme"),
		"product-description": text("Widgets"),
		"icp-analysis":        text(strings.Repeat("i", 400)),
		"linkedin-posts":      text(strings.Repeat("l", 4000)),
	})

	a, err := e.Analytics(context.Background(), "u1", "target-buyer-personas")
	if err != nil {
		t.Fatal(err)
	}
	if a.Optimization.NaiveTotalTokens < a.EstimatedTokens {
		t.Errorf("naive %d < optimized %d", a.Optimization.NaiveTotalTokens, a.EstimatedTokens)
	}
	if a.Optimization.TokensSaved != a.Optimization.NaiveTotalTokens-a.Optimization.OptimizedTokens {
		t.Errorf("inconsistent savings: %+v", a.Optimization)
	}
	if a.Optimization.SavingsPercent <= 0 || a.Optimization.SavingsPercent > 100 {
		t.Errorf("savings percent = %v", a.Optimization.SavingsPercent)
	}
	personas, _ := e.Registry().Lookup("target-buyer-personas")
	if a.EstimatedCost != personas.GenerationCost {
		t.Errorf("estimated cost = %d, want %d (icp already produced)", a.EstimatedCost, personas.GenerationCost)
	}
}

func TestAnalyticsCountsPrefixOnBothSides(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	prefix := "## Buyer Urgency\n" + strings.Repeat("p", 2000)
	e.SetPrefixProvider(PrefixFunc(func(context.Context, string, string) (string, error) {
		return prefix, nil
	}))
	seed(t, ms, "u1", map[string]json.RawMessage{
		"product-name":        text("Acme"),
		"product-description": text("Widgets"),
		"icp-analysis":        text("Mid-market SaaS"),
	})

	a, err := e.Analytics(context.Background(), "u1", "target-buyer-personas")
	if err != nil {
		t.Fatal(err)
	}
	external := a.Breakdown.External
	if external == 0 {
		t.Fatal("prefix tokens not counted")
	}
	if a.Optimization.OptimizedTokens != a.EstimatedTokens {
		t.Errorf("optimized %d != estimated %d", a.Optimization.OptimizedTokens, a.EstimatedTokens)
	}
	if a.Optimization.NaiveTotalTokens < external {
		t.Errorf("naive %d does not include the %d prefix tokens", a.Optimization.NaiveTotalTokens, external)
	}
	// Every artifact lands in a tier unchanged, so the totals match.
	if a.Optimization.NaiveTotalTokens != a.Optimization.OptimizedTokens || a.Optimization.TokensSaved != 0 {
		t.Errorf("naive %d, optimized %d, saved %d", a.Optimization.NaiveTotalTokens,
			a.Optimization.OptimizedTokens, a.Optimization.TokensSaved)
	}
}

func TestAggregateConcurrentCallers(t *testing.T) {
	e, ms := newTestEngine(t, nil, nil)
	mc := cache.NewMemoryCache(0)
	e.SetCache(mc, 0)
	seed(t, ms, "u1", map[string]json.RawMessage{
		"product-name":        text("Acme"),
		"product-description": text("Widgets"),
		"icp-analysis":        text("Ops leaders at 50-200 person firms"),
	})

	const callers = 16
	results := make([]*AggregatedContext, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Aggregate(context.Background(), "u1", "target-buyer-personas", true)
		}(i)
	}
	wg.Wait()
	e.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].FormattedText != results[0].FormattedText {
			t.Errorf("caller %d saw different content", i)
		}
	}
	if mc.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", mc.Len())
	}
}
