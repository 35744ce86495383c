package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOrderCmd(t *testing.T) {
	out, err := run(t, "order", "messaging-framework", "--json", "--have", "value-proposition")
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}
	var order []string
	if err := json.Unmarshal([]byte(out), &order); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	want := []string{"icp-analysis", "target-buyer-personas", "messaging-framework"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestCostCmd(t *testing.T) {
	out, err := run(t, "cost", "target-buyer-personas", "--have", "icp-analysis")
	if err != nil {
		t.Fatalf("cost failed: %v", err)
	}
	if !strings.Contains(out, "target-buyer-personas") || !strings.Contains(out, "1 resources") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestValidateCmd(t *testing.T) {
	out, err := run(t, "validate", "target-buyer-personas")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "missing required: icp-analysis") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = run(t, "validate", "target-buyer-personas", "--have", "icp-analysis,market-research,competitor-analysis")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if strings.TrimSpace(out) != "ready" {
		t.Errorf("expected ready, got:\n%s", out)
	}
}

func TestTiersCmd(t *testing.T) {
	out, err := run(t, "tiers", "icp-analysis")
	if err != nil {
		t.Fatalf("tiers failed: %v", err)
	}
	if !strings.Contains(out, "assignment: registered") || !strings.Contains(out, "product-name") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = run(t, "tiers", "cold-email-sequence")
	if err != nil {
		t.Fatalf("tiers failed: %v", err)
	}
	if !strings.Contains(out, "assignment: default") {
		t.Errorf("expected default assignment:\n%s", out)
	}
}

func TestListCmd(t *testing.T) {
	out, err := run(t, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.HasPrefix(out, "TIER") || !strings.Contains(out, "go-to-market-plan") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestUnknownTarget(t *testing.T) {
	if _, err := run(t, "order", "ghost"); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestCustomCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	yml := `inputs: [brief]
resources:
  - id: draft
    name: Draft
    tier: 1
    required: [brief]
    generation_cost: 2
  - id: final
    name: Final
    tier: 2
    required: [draft]
    generation_cost: 5
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "--catalog", path, "cost", "final", "--json")
	if err != nil {
		t.Fatalf("cost failed: %v", err)
	}
	var est struct {
		TotalCost int `json:"total_cost"`
	}
	if err := json.Unmarshal([]byte(out), &est); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if est.TotalCost != 7 {
		t.Errorf("total cost = %d, want 7", est.TotalCost)
	}
}
