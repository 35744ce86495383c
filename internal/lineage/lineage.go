// Package lineage mirrors the artifact catalog into Neo4j so the dependency
// graph can be explored and queried for impact analysis.
package lineage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/artifact-context/internal/catalog"
	"go.uber.org/zap"
)

// Exporter writes catalog nodes and edges to Neo4j.
type Exporter struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewExporter connects to Neo4j and verifies connectivity.
func NewExporter(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Exporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	logger.Info("Neo4j lineage graph connected")
	return &Exporter{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (x *Exporter) Close(ctx context.Context) error {
	return x.driver.Close(ctx)
}

// Sync upserts every resource, input placeholder and dependency edge of reg.
// Edges that are no longer in the catalog are removed.
func (x *Exporter) Sync(ctx context.Context, reg *catalog.Registry) error {
	session := x.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	nodes := make([]map[string]any, 0, reg.Len())
	var edges []map[string]any
	for _, n := range reg.Nodes() {
		nodes = append(nodes, map[string]any{
			"id":       n.ID,
			"name":     n.Name,
			"tier":     n.Tier,
			"category": n.Category,
			"tokens":   n.EstimatedTokens,
			"cost":     n.GenerationCost,
			"impact":   n.Impact,
		})
		for _, dep := range n.Required {
			edges = append(edges, edge(n.ID, dep, "required", reg.IsInput(dep)))
		}
		for _, dep := range n.Optional {
			edges = append(edges, edge(n.ID, dep, "optional", reg.IsInput(dep)))
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MATCH (:Resource)-[d:DEPENDS_ON]->() DELETE d`, nil); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`UNWIND $nodes AS n
			 MERGE (r:Resource {id: n.id})
			 SET r.name = n.name, r.tier = n.tier, r.category = n.category,
			     r.estimated_tokens = n.tokens, r.generation_cost = n.cost,
			     r.impact = n.impact`,
			map[string]any{"nodes": nodes}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`UNWIND $edges AS e
			 MATCH (r:Resource {id: e.from})
			 MERGE (d:Resource {id: e.to})
			 ON CREATE SET d.input = e.input
			 MERGE (r)-[dep:DEPENDS_ON]->(d)
			 SET dep.kind = e.kind`,
			map[string]any{"edges": edges}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync lineage graph: %w", err)
	}
	x.logger.Info("lineage graph synced",
		zap.Int("resources", len(nodes)),
		zap.Int("edges", len(edges)))
	return nil
}

func edge(from, to, kind string, input bool) map[string]any {
	return map[string]any{"from": from, "to": to, "kind": kind, "input": input}
}

// Dependents returns the ids of resources that transitively require id,
// ordered by tier then id.
func (x *Exporter) Dependents(ctx context.Context, id string) ([]string, error) {
	session := x.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (d:Resource)-[:DEPENDS_ON*1.. {kind: 'required'}]->(:Resource {id: $id})
		 RETURN DISTINCT d.id AS id, d.tier AS tier
		 ORDER BY tier, id`,
		map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("query dependents of %s: %w", id, err)
	}

	out := []string{}
	for result.Next(ctx) {
		v, _ := result.Record().Get("id")
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read dependents of %s: %w", id, err)
	}
	return out, nil
}
