//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nidhogg/artifact-context/internal/artifact"
)

func TestPostgresArtifactStore(t *testing.T) {
	ctx := context.Background()
	user := "pg-user-" + time.Now().Format("150405.000000")
	base := time.Now().UTC().Truncate(time.Millisecond)

	recs := []artifact.Record{
		{UserID: user, ID: "icp-analysis", Name: "ICP", Output: json.RawMessage(`{"segment":"SMB"}`), ProducedAt: base.Add(time.Minute)},
		{UserID: user, ID: "product-name", Output: json.RawMessage(`"Acme"`), ProducedAt: base},
	}
	for _, r := range recs {
		if err := testPGStore.SaveArtifact(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	got, err := testPGStore.ListArtifacts(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "product-name" || got[1].ID != "icp-analysis" {
		t.Fatalf("expected records oldest first, got %+v", got)
	}
	var seg map[string]string
	if err := json.Unmarshal(got[1].Output, &seg); err != nil || seg["segment"] != "SMB" {
		t.Errorf("output not round-tripped: %s", got[1].Output)
	}

	// Upsert replaces content but keeps one row per id.
	recs[0].Output = json.RawMessage(`{"segment":"Enterprise"}`)
	recs[0].OutputSummary = "Enterprise buyers"
	if err := testPGStore.SaveArtifact(ctx, recs[0]); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ids, err := testPGStore.ListArtifactIDs(ctx, user)
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids after upsert, got %v", ids)
	}

	if err := testPGStore.DeleteArtifact(ctx, user, "product-name"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = testPGStore.ListArtifacts(ctx, user)
	if len(got) != 1 || got[0].OutputSummary != "Enterprise buyers" {
		t.Errorf("unexpected records after delete: %+v", got)
	}
}

func TestPostgresPrefixProvider(t *testing.T) {
	ctx := context.Background()
	user := "prefix-user-" + time.Now().Format("150405.000000")

	got, err := testPGStore.Prefix(ctx, user, "icp-analysis")
	if err != nil || got != "" {
		t.Fatalf("expected empty prefix, got %q err=%v", got, err)
	}

	if err := testPGStore.SavePrefix(ctx, user, "", "## Signals\nuser-wide"); err != nil {
		t.Fatal(err)
	}
	if err := testPGStore.SavePrefix(ctx, user, "icp-analysis", "## Signals\nicp only"); err != nil {
		t.Fatal(err)
	}

	got, _ = testPGStore.Prefix(ctx, user, "icp-analysis")
	if got != "## Signals\nicp only" {
		t.Errorf("target entry not preferred: %q", got)
	}
	got, _ = testPGStore.Prefix(ctx, user, "empathy-map")
	if got != "## Signals\nuser-wide" {
		t.Errorf("user-wide fallback not used: %q", got)
	}
}
