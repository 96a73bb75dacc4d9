package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"news-pulse/config"
	"news-pulse/models"
)

// GraphNode ist ein Tag im materialisierten Graphen. MentionCount und
// Sentiment dienen Ranking und Visualisierung; der algorithmische Vertrag
// ist rein strukturell.
type GraphNode struct {
	ID           uint           `json:"id"`
	Name         string         `json:"name"`
	Type         models.TagType `json:"type"`
	Subtype      string         `json:"subtype,omitempty"`
	MentionCount int            `json:"mention_count"`
	Sentiment    float64        `json:"sentiment"`
}

// GraphEdge ist eine ungerichtete Kante; SourceID/TargetID geben die
// gespeicherte Richtung wieder, pro ungeordnetem Paar existiert genau eine.
type GraphEdge struct {
	SourceID          uint                `json:"source_id"`
	TargetID          uint                `json:"target_id"`
	Type              models.RelationType `json:"type"`
	Strength          float64             `json:"strength"`
	CoOccurrenceCount int                 `json:"co_occurrence_count"`
}

// Graph ist das Ergebnis aller Build-Operationen.
type Graph struct {
	Nodes       []GraphNode `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// GraphStats fasst den Gesamtgraphen zusammen.
type GraphStats struct {
	TotalNodes      int64             `json:"total_nodes"`
	TotalEdges      int64             `json:"total_edges"`
	AvgDegree       float64           `json:"avg_degree"`
	Density         float64           `json:"density"`
	TopCentralNodes []CentralityScore `json:"top_central_nodes"`
}

// NodeChange beschreibt einen Knoten, der in beiden Diff-Zeitpunkten
// existiert, dessen Kennzahlen sich aber verändert haben.
type NodeChange struct {
	Node           GraphNode `json:"node"`
	MentionDelta   int       `json:"mention_delta"`
	SentimentDelta float64   `json:"sentiment_delta"`
}

// GraphDiff ist das Ergebnis von GetGraphDiff.
type GraphDiff struct {
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	AddedNodes   []GraphNode  `json:"added_nodes"`
	RemovedNodes []GraphNode  `json:"removed_nodes"`
	AddedEdges   []GraphEdge  `json:"added_edges"`
	RemovedEdges []GraphEdge  `json:"removed_edges"`
	ChangedNodes []NodeChange `json:"changed_nodes"`
}

// GraphService materialisiert gefilterte Graphen aus dem Tag Store und
// berechnet die Kanten-Stärken neu.
type GraphService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewGraphService erstellt eine neue Instanz des GraphService.
func NewGraphService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *GraphService {
	return &GraphService{
		Config: cfg,
		DB:     db,
		Logger: logger,
	}
}

// BuildGraph materialisiert den Graphen der aktivsten Tags: bis zu maxNodes
// Tags mit last_seen_at innerhalb von periodDays, absteigend nach
// total_mentions, optional nach Typ gefiltert; Kanten nur zwischen
// ausgewählten Knoten mit strength >= minStrength. Ein leerer Korpus ergibt
// einen leeren Graphen, keinen Fehler.
func (s *GraphService) BuildGraph(ctx context.Context, minStrength float64, maxNodes, periodDays int, tagType models.TagType) (*Graph, error) {
	if err := validateStrength(minStrength); err != nil {
		return nil, err
	}
	if maxNodes < 1 {
		return nil, fmt.Errorf("%w: maxNodes must be >= 1", ErrInvalidInput)
	}
	if periodDays < 1 {
		return nil, fmt.Errorf("%w: periodDays must be >= 1", ErrInvalidInput)
	}

	db := s.DB.WithContext(ctx)
	cutoff := time.Now().UTC().AddDate(0, 0, -periodDays)

	q := db.Model(&models.Tag{}).Where("last_seen_at >= ?", cutoff)
	if tagType != "" {
		q = q.Where("type = ?", tagType)
	}
	var tags []models.Tag
	if err := q.Order("total_mentions DESC, id ASC").Limit(maxNodes).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("select graph nodes: %w", err)
	}

	graph := &Graph{
		Nodes:       make([]GraphNode, 0, len(tags)),
		Edges:       []GraphEdge{},
		GeneratedAt: time.Now().UTC(),
	}
	if len(tags) == 0 {
		return graph, nil
	}

	ids := make([]uint, 0, len(tags))
	for _, t := range tags {
		ids = append(ids, t.ID)
		graph.Nodes = append(graph.Nodes, nodeFromTag(&t))
	}

	edges, err := s.inducedEdges(ctx, ids, minStrength, time.Time{})
	if err != nil {
		return nil, err
	}
	graph.Edges = edges
	return graph, nil
}

// BuildEgoGraph expandiert per BFS bis zu depth Hops um das Zentrum herum
// und liefert den induzierten Teilgraphen der erreichten Knoten, keinen
// Baum: Kanten zwischen zwei besuchten Knoten erscheinen auch dann, wenn
// die BFS sie nicht benutzt hat. Jeder Knoten wird höchstens einmal
// expandiert, jedes ungeordnete Kantenpaar taucht genau einmal auf.
func (s *GraphService) BuildEgoGraph(ctx context.Context, tagID uint, depth int, minStrength float64) (*Graph, error) {
	if tagID == 0 {
		return nil, fmt.Errorf("%w: tagID must be set", ErrInvalidInput)
	}
	if depth < 1 {
		return nil, fmt.Errorf("%w: depth must be >= 1", ErrInvalidInput)
	}
	if err := validateStrength(minStrength); err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)

	var center models.Tag
	if err := db.First(&center, tagID).Error; err != nil {
		return nil, err
	}

	visited := map[uint]bool{tagID: true}
	order := []uint{tagID}
	frontier := []uint{tagID}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var rels []models.TagRelation
		err := db.Where("(source_tag_id IN ? OR target_tag_id IN ?) AND strength >= ?",
			frontier, frontier, minStrength).
			Order("id ASC").
			Find(&rels).Error
		if err != nil {
			return nil, fmt.Errorf("expand ego graph at hop %d: %w", hop+1, err)
		}

		var next []uint
		for _, r := range rels {
			for _, id := range []uint{r.SourceTagID, r.TargetTagID} {
				if !visited[id] {
					visited[id] = true
					order = append(order, id)
					next = append(next, id)
				}
			}
		}
		frontier = next
	}

	var tags []models.Tag
	if err := db.Where("id IN ?", order).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load ego graph nodes: %w", err)
	}
	byID := make(map[uint]*models.Tag, len(tags))
	for i := range tags {
		byID[tags[i].ID] = &tags[i]
	}

	graph := &Graph{
		Nodes:       make([]GraphNode, 0, len(order)),
		Edges:       []GraphEdge{},
		GeneratedAt: time.Now().UTC(),
	}
	for _, id := range order {
		if t, ok := byID[id]; ok {
			graph.Nodes = append(graph.Nodes, nodeFromTag(t))
		}
	}

	edges, err := s.inducedEdges(ctx, order, minStrength, time.Time{})
	if err != nil {
		return nil, err
	}
	graph.Edges = edges
	return graph, nil
}

// UpdateRelationStrengths berechnet alle Kanten-Stärken in einem Durchlauf
// neu: strength = min(1.0, co_occurrence_count / max + 0.1). Der 0.1-Sockel
// hält jede beobachtete Co-Occurrence von "keine Relation" unterscheidbar.
// Läuft als einzelnes Bulk-UPDATE; Leser sehen pro Zeile nie einen halben
// Wert. Liefert die Anzahl aktualisierter Zeilen.
func (s *GraphService) UpdateRelationStrengths(ctx context.Context) (int64, error) {
	db := s.DB.WithContext(ctx)

	var maxCount int64
	err := db.Model(&models.TagRelation{}).
		Select("COALESCE(MAX(co_occurrence_count), 0)").
		Scan(&maxCount).Error
	if err != nil {
		return 0, fmt.Errorf("determine max co-occurrence: %w", err)
	}
	if maxCount == 0 {
		return 0, nil
	}

	res := db.Exec(
		`UPDATE tag_relations
		 SET strength = CASE
		     WHEN (co_occurrence_count * 1.0 / ?) + 0.1 >= 1.0 THEN 1.0
		     ELSE (co_occurrence_count * 1.0 / ?) + 0.1
		 END,
		 updated_at = ?`,
		maxCount, maxCount, time.Now().UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("update relation strengths: %w", res.Error)
	}

	s.Logger.Info("Kanten-Stärken neu berechnet",
		zap.Int64("relations", res.RowsAffected),
		zap.Int64("max_co_occurrence", maxCount))
	return res.RowsAffected, nil
}

// GetGraphStats liefert Kennzahlen über den Gesamtgraphen.
func (s *GraphService) GetGraphStats(ctx context.Context) (*GraphStats, error) {
	db := s.DB.WithContext(ctx)

	var nodeCount, edgeCount int64
	if err := db.Model(&models.Tag{}).Count(&nodeCount).Error; err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}
	if err := db.Model(&models.TagRelation{}).Count(&edgeCount).Error; err != nil {
		return nil, fmt.Errorf("count relations: %w", err)
	}

	stats := &GraphStats{
		TotalNodes:      nodeCount,
		TotalEdges:      edgeCount,
		TopCentralNodes: []CentralityScore{},
	}
	if nodeCount > 0 {
		stats.AvgDegree = 2 * float64(edgeCount) / float64(nodeCount)
	}
	if nodeCount > 1 {
		possible := float64(nodeCount) * float64(nodeCount-1) / 2
		stats.Density = float64(edgeCount) / possible
	}

	central, err := s.CalculateCentrality(ctx)
	if err != nil {
		return nil, err
	}
	if len(central) > 10 {
		central = central[:10]
	}
	stats.TopCentralNodes = central
	return stats, nil
}

// BuildGraphAtTime materialisiert den Graphen, wie er zum Stichtag aussah:
// Mitgliedschaft über created_at <= date, Knoten-Kennzahlen aus den
// unveränderlichen Mentions bis zum Stichtag neu aggregiert. Die
// Kanten-Stärke bleibt die aktuelle; historische Stärken werden nicht
// rekonstruiert.
func (s *GraphService) BuildGraphAtTime(ctx context.Context, date time.Time, minStrength float64, maxNodes int) (*Graph, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date must be set", ErrInvalidInput)
	}
	if err := validateStrength(minStrength); err != nil {
		return nil, err
	}
	if maxNodes < 1 {
		return nil, fmt.Errorf("%w: maxNodes must be >= 1", ErrInvalidInput)
	}

	db := s.DB.WithContext(ctx)

	var rows []struct {
		TagID    uint
		Cnt      int
		AvgScore float64
	}
	err := db.Model(&models.TagMention{}).
		Select("tag_id, COUNT(*) AS cnt, COALESCE(AVG(sentiment_score), 0) AS avg_score").
		Where("created_at <= ?", date).
		Group("tag_id").
		Order("cnt DESC, tag_id ASC").
		Limit(maxNodes).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate historical mentions: %w", err)
	}

	graph := &Graph{
		Nodes:       make([]GraphNode, 0, len(rows)),
		Edges:       []GraphEdge{},
		GeneratedAt: time.Now().UTC(),
	}
	if len(rows) == 0 {
		return graph, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.TagID)
	}

	var tags []models.Tag
	if err := db.Where("id IN ? AND created_at <= ?", ids, date).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load historical tags: %w", err)
	}
	byID := make(map[uint]*models.Tag, len(tags))
	for i := range tags {
		byID[tags[i].ID] = &tags[i]
	}

	memberIDs := make([]uint, 0, len(rows))
	for _, r := range rows {
		t, ok := byID[r.TagID]
		if !ok {
			continue
		}
		memberIDs = append(memberIDs, r.TagID)
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:           t.ID,
			Name:         t.Name,
			Type:         t.Type,
			Subtype:      t.Subtype,
			MentionCount: r.Cnt,
			Sentiment:    r.AvgScore,
		})
	}

	edges, err := s.inducedEdges(ctx, memberIDs, minStrength, date)
	if err != nil {
		return nil, err
	}
	graph.Edges = edges
	return graph, nil
}

// GetGraphDiff baut zwei Stichtags-Graphen und bildet die Mengen-Differenz
// über Knoten-IDs und ungeordnete Kantenpaare. ChangedNodes sind Knoten
// beider Zeitpunkte mit Mention-Delta != 0 oder |Sentiment-Delta| > 0.1.
func (s *GraphService) GetGraphDiff(ctx context.Context, from, to time.Time, maxNodes int) (*GraphDiff, error) {
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: from and to must be set", ErrInvalidInput)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from must not be after to", ErrInvalidInput)
	}
	if maxNodes < 1 {
		return nil, fmt.Errorf("%w: maxNodes must be >= 1", ErrInvalidInput)
	}

	before, err := s.BuildGraphAtTime(ctx, from, 0, maxNodes)
	if err != nil {
		return nil, err
	}
	after, err := s.BuildGraphAtTime(ctx, to, 0, maxNodes)
	if err != nil {
		return nil, err
	}

	diff := &GraphDiff{
		From:         from,
		To:           to,
		AddedNodes:   []GraphNode{},
		RemovedNodes: []GraphNode{},
		AddedEdges:   []GraphEdge{},
		RemovedEdges: []GraphEdge{},
		ChangedNodes: []NodeChange{},
	}

	beforeNodes := make(map[uint]GraphNode, len(before.Nodes))
	for _, n := range before.Nodes {
		beforeNodes[n.ID] = n
	}
	afterNodes := make(map[uint]GraphNode, len(after.Nodes))
	for _, n := range after.Nodes {
		afterNodes[n.ID] = n
	}

	for _, n := range after.Nodes {
		old, ok := beforeNodes[n.ID]
		if !ok {
			diff.AddedNodes = append(diff.AddedNodes, n)
			continue
		}
		mentionDelta := n.MentionCount - old.MentionCount
		sentimentDelta := n.Sentiment - old.Sentiment
		if mentionDelta != 0 || math.Abs(sentimentDelta) > 0.1 {
			diff.ChangedNodes = append(diff.ChangedNodes, NodeChange{
				Node:           n,
				MentionDelta:   mentionDelta,
				SentimentDelta: sentimentDelta,
			})
		}
	}
	for _, n := range before.Nodes {
		if _, ok := afterNodes[n.ID]; !ok {
			diff.RemovedNodes = append(diff.RemovedNodes, n)
		}
	}

	beforeEdges := make(map[[2]uint]GraphEdge, len(before.Edges))
	for _, e := range before.Edges {
		beforeEdges[pairKey(e.SourceID, e.TargetID)] = e
	}
	afterEdges := make(map[[2]uint]GraphEdge, len(after.Edges))
	for _, e := range after.Edges {
		afterEdges[pairKey(e.SourceID, e.TargetID)] = e
	}

	for key, e := range afterEdges {
		if _, ok := beforeEdges[key]; !ok {
			diff.AddedEdges = append(diff.AddedEdges, e)
		}
	}
	for key, e := range beforeEdges {
		if _, ok := afterEdges[key]; !ok {
			diff.RemovedEdges = append(diff.RemovedEdges, e)
		}
	}

	sort.Slice(diff.AddedEdges, func(i, j int) bool { return lessEdge(diff.AddedEdges[i], diff.AddedEdges[j]) })
	sort.Slice(diff.RemovedEdges, func(i, j int) bool { return lessEdge(diff.RemovedEdges[i], diff.RemovedEdges[j]) })
	sort.Slice(diff.AddedNodes, func(i, j int) bool { return diff.AddedNodes[i].ID < diff.AddedNodes[j].ID })
	sort.Slice(diff.RemovedNodes, func(i, j int) bool { return diff.RemovedNodes[i].ID < diff.RemovedNodes[j].ID })
	sort.Slice(diff.ChangedNodes, func(i, j int) bool { return diff.ChangedNodes[i].Node.ID < diff.ChangedNodes[j].Node.ID })

	return diff, nil
}

// inducedEdges lädt alle Kanten zwischen den gegebenen Knoten mit
// strength >= minStrength, optional auf created_at <= asOf eingeschränkt,
// und kollabiert doppelte ungeordnete Paare auf die stärkere Zeile.
func (s *GraphService) inducedEdges(ctx context.Context, ids []uint, minStrength float64, asOf time.Time) ([]GraphEdge, error) {
	if len(ids) < 2 {
		return []GraphEdge{}, nil
	}

	q := s.DB.WithContext(ctx).
		Where("source_tag_id IN ? AND target_tag_id IN ? AND strength >= ?", ids, ids, minStrength)
	if !asOf.IsZero() {
		q = q.Where("created_at <= ?", asOf)
	}
	var rels []models.TagRelation
	if err := q.Order("source_tag_id ASC, target_tag_id ASC").Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("select induced edges: %w", err)
	}

	byPair := make(map[[2]uint]GraphEdge, len(rels))
	for _, r := range rels {
		key := pairKey(r.SourceTagID, r.TargetTagID)
		edge := GraphEdge{
			SourceID:          r.SourceTagID,
			TargetID:          r.TargetTagID,
			Type:              r.Type,
			Strength:          r.Strength,
			CoOccurrenceCount: r.CoOccurrenceCount,
		}
		if prev, ok := byPair[key]; !ok || edge.Strength > prev.Strength {
			byPair[key] = edge
		}
	}

	edges := make([]GraphEdge, 0, len(byPair))
	for _, e := range byPair {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return lessEdge(edges[i], edges[j]) })
	return edges, nil
}

// nodeFromTag übernimmt die abgeleiteten Tag-Werte in einen Graph-Knoten.
func nodeFromTag(t *models.Tag) GraphNode {
	return GraphNode{
		ID:           t.ID,
		Name:         t.Name,
		Type:         t.Type,
		Subtype:      t.Subtype,
		MentionCount: t.TotalMentions,
		Sentiment:    t.AvgSentiment,
	}
}

// pairKey normalisiert ein Kantenpaar auf (kleinere ID, größere ID).
func pairKey(a, b uint) [2]uint {
	if a > b {
		a, b = b, a
	}
	return [2]uint{a, b}
}

func lessEdge(a, b GraphEdge) bool {
	ka, kb := pairKey(a.SourceID, a.TargetID), pairKey(b.SourceID, b.TargetID)
	if ka[0] != kb[0] {
		return ka[0] < kb[0]
	}
	return ka[1] < kb[1]
}

// validateStrength prüft den minStrength-Parameter aller Graph-Operationen.
func validateStrength(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: minStrength must be within [0, 1]", ErrInvalidInput)
	}
	return nil
}
