package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"news-pulse/models"
)

func newGraphService(t *testing.T) *GraphService {
	t.Helper()
	return NewGraphService(testConfig(), openTestDB(t), zap.NewNop())
}

// Ingestion, Stärken-Neuberechnung und Graph-Aufbau im Zusammenspiel.
func TestBuildGraphEndToEnd(t *testing.T) {
	db := openTestDB(t)
	extract := NewExtractService(testConfig(), db, zap.NewNop())
	graphs := NewGraphService(testConfig(), db, zap.NewNop())
	ctx := context.Background()

	_, err := extract.ProcessArticle(ctx, ArticleInput{Title: "Bitcoin ETF approved"}, ExtractedPayload{
		Entities: []ExtractedItem{
			{Name: "Bitcoin", SentimentScore: 0.8, Relevance: 0.9},
			{Name: "ETF", SentimentScore: 0.6, Relevance: 0.7},
		},
	})
	if err != nil {
		t.Fatalf("ProcessArticle: %v", err)
	}

	updated, err := graphs.UpdateRelationStrengths(ctx)
	if err != nil {
		t.Fatalf("UpdateRelationStrengths: %v", err)
	}
	if updated != 1 {
		t.Errorf("expected 1 updated relation, got %d", updated)
	}

	graph, err := graphs.BuildGraph(ctx, 0.1, 10, 30, "")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if len(graph.Nodes) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(graph.Nodes))
	}
	if len(graph.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(graph.Edges))
	}
	// einzige Kante trägt den Maximal-Count => Stärke gedeckelt auf 1.0
	if graph.Edges[0].Strength != 1.0 {
		t.Errorf("expected capped strength 1.0, got %f", graph.Edges[0].Strength)
	}
}

func TestBuildGraphFiltersByStrengthAndType(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeTopic)
	mustRelation(t, svc.DB, a.ID, b.ID, 0.5, 3)
	mustRelation(t, svc.DB, a.ID, c.ID, 0.2, 1)

	graph, err := svc.BuildGraph(ctx, 0.3, 10, 30, "")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if len(graph.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(graph.Nodes))
	}
	if len(graph.Edges) != 1 {
		t.Fatalf("expected weak edge filtered out, got %d edges", len(graph.Edges))
	}
	if pairKey(graph.Edges[0].SourceID, graph.Edges[0].TargetID) != pairKey(a.ID, b.ID) {
		t.Errorf("unexpected edge %d-%d", graph.Edges[0].SourceID, graph.Edges[0].TargetID)
	}

	entityGraph, err := svc.BuildGraph(ctx, 0, 10, 30, models.TagTypeEntity)
	if err != nil {
		t.Fatalf("BuildGraph with type filter: %v", err)
	}
	if len(entityGraph.Nodes) != 2 {
		t.Errorf("expected only entity nodes, got %d", len(entityGraph.Nodes))
	}
	for _, n := range entityGraph.Nodes {
		if n.Type != models.TagTypeEntity {
			t.Errorf("unexpected node type %q", n.Type)
		}
	}
}

func TestBuildGraphMaxNodesKeepsTopMentioned(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeEntity)
	svc.DB.Model(a).Update("total_mentions", 9)
	svc.DB.Model(b).Update("total_mentions", 5)
	svc.DB.Model(c).Update("total_mentions", 1)
	mustRelation(t, svc.DB, a.ID, b.ID, 0.9, 5)
	mustRelation(t, svc.DB, b.ID, c.ID, 0.9, 5)

	graph, err := svc.BuildGraph(ctx, 0, 2, 30, "")
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if len(graph.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(graph.Nodes))
	}
	if graph.Nodes[0].ID != a.ID || graph.Nodes[1].ID != b.ID {
		t.Errorf("expected nodes ranked by mentions, got %v", graph.Nodes)
	}
	// Kante zum abgeschnittenen Knoten darf nicht auftauchen
	if len(graph.Edges) != 1 {
		t.Fatalf("expected only the induced edge, got %d", len(graph.Edges))
	}
}

func TestBuildGraphValidation(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	if _, err := svc.BuildGraph(ctx, 1.5, 10, 30, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("minStrength out of range: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.BuildGraph(ctx, 0.5, 0, 30, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("maxNodes 0: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.BuildGraph(ctx, 0.5, 10, 0, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("periodDays 0: expected ErrInvalidInput, got %v", err)
	}
}

func TestBuildEgoGraphDepth(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeEntity)
	d := mustTag(t, svc.DB, "Delta", models.TagTypeEntity)
	mustRelation(t, svc.DB, a.ID, b.ID, 0.9, 3)
	mustRelation(t, svc.DB, b.ID, c.ID, 0.9, 3)
	mustRelation(t, svc.DB, c.ID, d.ID, 0.9, 3)

	depth1, err := svc.BuildEgoGraph(ctx, a.ID, 1, 0)
	if err != nil {
		t.Fatalf("BuildEgoGraph depth 1: %v", err)
	}
	if len(depth1.Nodes) != 2 || len(depth1.Edges) != 1 {
		t.Errorf("depth 1: expected 2 nodes / 1 edge, got %d/%d", len(depth1.Nodes), len(depth1.Edges))
	}

	depth2, err := svc.BuildEgoGraph(ctx, a.ID, 2, 0)
	if err != nil {
		t.Fatalf("BuildEgoGraph depth 2: %v", err)
	}
	got := map[uint]bool{}
	for _, n := range depth2.Nodes {
		got[n.ID] = true
	}
	if len(got) != 3 || !got[a.ID] || !got[b.ID] || !got[c.ID] {
		t.Errorf("depth 2: expected nodes {A,B,C}, got %v", depth2.Nodes)
	}
	if len(depth2.Edges) != 2 {
		t.Errorf("depth 2: expected 2 edges, got %d", len(depth2.Edges))
	}

	if _, err := svc.BuildEgoGraph(ctx, 4242, 1, 0); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("missing center: expected gorm.ErrRecordNotFound, got %v", err)
	}
	if _, err := svc.BuildEgoGraph(ctx, a.ID, 0, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("depth 0: expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateRelationStrengths(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	// leerer Store: nichts zu tun, kein Fehler
	updated, err := svc.UpdateRelationStrengths(ctx)
	if err != nil {
		t.Fatalf("UpdateRelationStrengths on empty store: %v", err)
	}
	if updated != 0 {
		t.Errorf("expected 0 updates on empty store, got %d", updated)
	}

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeEntity)
	d := mustTag(t, svc.DB, "Delta", models.TagTypeEntity)
	r1 := mustRelation(t, svc.DB, a.ID, b.ID, 0.1, 2)
	r2 := mustRelation(t, svc.DB, b.ID, c.ID, 0.1, 5)
	r3 := mustRelation(t, svc.DB, c.ID, d.ID, 0.1, 10)

	updated, err = svc.UpdateRelationStrengths(ctx)
	if err != nil {
		t.Fatalf("UpdateRelationStrengths: %v", err)
	}
	if updated != 3 {
		t.Errorf("expected 3 updated rows, got %d", updated)
	}

	expect := map[uint]float64{r1.ID: 0.3, r2.ID: 0.6, r3.ID: 1.0}
	var rels []models.TagRelation
	if err := svc.DB.Find(&rels).Error; err != nil {
		t.Fatalf("reload relations: %v", err)
	}
	for _, r := range rels {
		want := expect[r.ID]
		if math.Abs(r.Strength-want) > 1e-9 {
			t.Errorf("relation %d: expected strength %f, got %f", r.ID, want, r.Strength)
		}
		if r.Strength < 0 || r.Strength > 1 {
			t.Errorf("relation %d: strength %f out of bounds", r.ID, r.Strength)
		}
	}
}

func TestDetectClustersTriangleWithIsolate(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeEntity)
	mustTag(t, svc.DB, "Isolated", models.TagTypeEntity)
	e := mustTag(t, svc.DB, "Epsilon", models.TagTypeEntity)
	f := mustTag(t, svc.DB, "Zeta", models.TagTypeEntity)

	svc.DB.Model(a).Update("total_mentions", 10)
	mustRelation(t, svc.DB, a.ID, b.ID, 0.5, 3)
	mustRelation(t, svc.DB, b.ID, c.ID, 0.5, 3)
	mustRelation(t, svc.DB, a.ID, c.ID, 0.5, 3)
	// unterhalb des 0.2-Sockels, zählt nicht als Verbindung
	mustRelation(t, svc.DB, e.ID, f.ID, 0.1, 1)

	clusters, err := svc.DetectClusters(ctx, 3)
	if err != nil {
		t.Fatalf("DetectClusters: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected exactly 1 cluster, got %d", len(clusters))
	}
	cl := clusters[0]
	if cl.MemberCount != 3 {
		t.Errorf("expected 3 members, got %d", cl.MemberCount)
	}
	if cl.CentralNode.ID != a.ID {
		t.Errorf("expected most-mentioned member as central node, got %d", cl.CentralNode.ID)
	}
	if cl.TotalMentions != 10 {
		t.Errorf("expected total mentions 10, got %d", cl.TotalMentions)
	}
	if cl.ID != 1 {
		t.Errorf("expected cluster id 1, got %d", cl.ID)
	}
}

func TestCalculateCentralityStar(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	hub := mustTag(t, svc.DB, "Hub", models.TagTypeEntity)
	l1 := mustTag(t, svc.DB, "LeafOne", models.TagTypeEntity)
	l2 := mustTag(t, svc.DB, "LeafTwo", models.TagTypeEntity)
	l3 := mustTag(t, svc.DB, "LeafThree", models.TagTypeEntity)
	mustRelation(t, svc.DB, hub.ID, l1.ID, 0.4, 2)
	mustRelation(t, svc.DB, hub.ID, l2.ID, 0.4, 2)
	mustRelation(t, svc.DB, hub.ID, l3.ID, 0.4, 2)

	scores, err := svc.CalculateCentrality(ctx)
	if err != nil {
		t.Fatalf("CalculateCentrality: %v", err)
	}
	if len(scores) != 4 {
		t.Fatalf("expected 4 scored tags, got %d", len(scores))
	}
	if scores[0].TagID != hub.ID || scores[0].Centrality != 1.0 {
		t.Errorf("expected hub first with centrality 1.0, got %+v", scores[0])
	}
	if scores[0].Name != "Hub" {
		t.Errorf("expected hub name resolved, got %q", scores[0].Name)
	}
	for _, sc := range scores[1:] {
		if math.Abs(sc.Centrality-1.0/3.0) > 1e-9 {
			t.Errorf("leaf %d: expected centrality 1/3, got %f", sc.TagID, sc.Centrality)
		}
	}
	// Gleichstand der Blätter wird über die Tag-ID aufgelöst
	if scores[1].TagID != l1.ID || scores[2].TagID != l2.ID || scores[3].TagID != l3.ID {
		t.Errorf("expected deterministic leaf order, got %v", scores[1:])
	}
}

func TestGetGraphStats(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	hub := mustTag(t, svc.DB, "Hub", models.TagTypeEntity)
	l1 := mustTag(t, svc.DB, "LeafOne", models.TagTypeEntity)
	l2 := mustTag(t, svc.DB, "LeafTwo", models.TagTypeEntity)
	mustTag(t, svc.DB, "Isolated", models.TagTypeEntity)
	mustRelation(t, svc.DB, hub.ID, l1.ID, 0.4, 2)
	mustRelation(t, svc.DB, hub.ID, l2.ID, 0.4, 2)

	stats, err := svc.GetGraphStats(ctx)
	if err != nil {
		t.Fatalf("GetGraphStats: %v", err)
	}
	if stats.TotalNodes != 4 || stats.TotalEdges != 2 {
		t.Errorf("expected 4 nodes / 2 edges, got %d/%d", stats.TotalNodes, stats.TotalEdges)
	}
	if math.Abs(stats.AvgDegree-1.0) > 1e-9 {
		t.Errorf("expected avg degree 1.0, got %f", stats.AvgDegree)
	}
	if math.Abs(stats.Density-2.0/6.0) > 1e-9 {
		t.Errorf("expected density 1/3, got %f", stats.Density)
	}
	if len(stats.TopCentralNodes) != 3 {
		t.Errorf("expected 3 central nodes, got %d", len(stats.TopCentralNodes))
	}
}

func TestBuildGraphAtTime(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.AddDate(0, 0, -3)
	cutoff := now.AddDate(0, 0, -1)

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeEntity)
	svc.DB.Model(a).Update("created_at", past)
	svc.DB.Model(b).Update("created_at", past)

	mustMention(t, svc.DB, a.ID, past, 0.5)
	mustMention(t, svc.DB, a.ID, past, 0.5)
	mustMention(t, svc.DB, b.ID, past, -0.5)
	mustMention(t, svc.DB, c.ID, now, 0.0)

	rel := mustRelation(t, svc.DB, a.ID, b.ID, 0.5, 2)
	svc.DB.Model(rel).Update("created_at", past)

	graph, err := svc.BuildGraphAtTime(ctx, cutoff, 0.1, 10)
	if err != nil {
		t.Fatalf("BuildGraphAtTime: %v", err)
	}
	if len(graph.Nodes) != 2 {
		t.Fatalf("expected 2 historical nodes, got %d", len(graph.Nodes))
	}
	if graph.Nodes[0].ID != a.ID || graph.Nodes[0].MentionCount != 2 {
		t.Errorf("expected Alpha first with 2 historical mentions, got %+v", graph.Nodes[0])
	}
	if len(graph.Edges) != 1 {
		t.Errorf("expected 1 historical edge, got %d", len(graph.Edges))
	}
}

func TestGetGraphDiff(t *testing.T) {
	svc := newGraphService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.AddDate(0, 0, -3)
	from := now.AddDate(0, 0, -2)

	a := mustTag(t, svc.DB, "Alpha", models.TagTypeEntity)
	b := mustTag(t, svc.DB, "Beta", models.TagTypeEntity)
	c := mustTag(t, svc.DB, "Gamma", models.TagTypeEntity)
	svc.DB.Model(a).Update("created_at", past)
	svc.DB.Model(b).Update("created_at", past)

	mustMention(t, svc.DB, a.ID, past, 0.5)
	mustMention(t, svc.DB, b.ID, past, -0.5)
	oldEdge := mustRelation(t, svc.DB, a.ID, b.ID, 0.5, 2)
	svc.DB.Model(oldEdge).Update("created_at", past)

	// nach dem from-Zeitpunkt: neuer Knoten, neue Kante, Alpha wächst
	mustMention(t, svc.DB, a.ID, now, 0.5)
	mustMention(t, svc.DB, c.ID, now, 0.0)
	mustRelation(t, svc.DB, b.ID, c.ID, 0.5, 1)

	diff, err := svc.GetGraphDiff(ctx, from, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("GetGraphDiff: %v", err)
	}
	if len(diff.AddedNodes) != 1 || diff.AddedNodes[0].ID != c.ID {
		t.Errorf("expected Gamma as added node, got %v", diff.AddedNodes)
	}
	if len(diff.RemovedNodes) != 0 {
		t.Errorf("expected no removed nodes, got %v", diff.RemovedNodes)
	}
	if len(diff.AddedEdges) != 1 || pairKey(diff.AddedEdges[0].SourceID, diff.AddedEdges[0].TargetID) != pairKey(b.ID, c.ID) {
		t.Errorf("expected B-C as added edge, got %v", diff.AddedEdges)
	}
	foundAlpha := false
	for _, ch := range diff.ChangedNodes {
		if ch.Node.ID == a.ID {
			foundAlpha = true
			if ch.MentionDelta != 1 {
				t.Errorf("expected mention delta 1 for Alpha, got %d", ch.MentionDelta)
			}
		}
	}
	if !foundAlpha {
		t.Error("expected Alpha in changed nodes")
	}

	if _, err := svc.GetGraphDiff(ctx, now, from, 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("from after to: expected ErrInvalidInput, got %v", err)
	}
}
