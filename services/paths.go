package services

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"news-pulse/config"
	"news-pulse/models"
)

// defaultMaxTraversalEdges begrenzt die Adjazenzliste pro Query, wenn die
// Konfiguration keinen Wert liefert.
const defaultMaxTraversalEdges = 50000

// Parameter von AnalyzeRelationship.
const (
	analyzeMaxDepth     = 4
	analyzeDecayFactor  = 0.8
	neighborStrengthCap = 5 // ab 5 gemeinsamen Nachbarn ist der Faktor gesättigt
)

// PathNode ist ein Knoten eines Pfad-Ergebnisses in Traversal-Reihenfolge.
type PathNode struct {
	ID   uint           `json:"id"`
	Name string         `json:"name"`
	Type models.TagType `json:"type"`
}

// PathEdge ist eine Kante eines Pfad-Ergebnisses; Source/Target geben die
// Laufrichtung wieder, nicht die Speicher-Richtung.
type PathEdge struct {
	SourceID uint                `json:"source_id"`
	TargetID uint                `json:"target_id"`
	Type     models.RelationType `json:"type"`
	Strength float64             `json:"strength"`
}

// Path ist das Ergebnis einer Pfadsuche. TotalWeight ist die Summe der
// Kanten-Stärken, Depth die Hop-Anzahl. "Kein Pfad" ist (nil, nil), kein
// Fehler.
type Path struct {
	Nodes       []PathNode `json:"nodes"`
	Edges       []PathEdge `json:"edges"`
	TotalWeight float64    `json:"total_weight"`
	Depth       int        `json:"depth"`
}

// RelationshipAnalysis fasst die Beziehung zweier Tags zusammen.
type RelationshipAnalysis struct {
	DirectConnection   *PathEdge  `json:"direct_connection,omitempty"`
	ShortestPath       *Path      `json:"shortest_path,omitempty"`
	CommonNeighbors    []PathNode `json:"common_neighbors"`
	ConnectionStrength float64    `json:"connection_strength"`
}

// PathService beantwortet Traversal-Anfragen über eine pro Aufruf gebaute
// ungerichtete Adjazenz-Sicht.
type PathService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewPathService erstellt eine neue Instanz des PathService.
func NewPathService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *PathService {
	return &PathService{
		Config: cfg,
		DB:     db,
		Logger: logger,
	}
}

// neighborEntry ist ein Nachbar in der Adjazenz-Sicht.
type neighborEntry struct {
	id       uint
	strength float64
	relType  models.RelationType
}

// adjacencyView ist die ungerichtete Sicht auf die gespeicherten Kanten:
// jede gerichtete Zeile wird genau einmal in beide Nachbarlisten expandiert.
type adjacencyView map[uint][]neighborEntry

// buildAdjacency lädt alle Kanten mit strength >= minStrength (stärkste
// zuerst, hart gedeckelt) und expandiert sie in eine ungerichtete Sicht.
// Nachbarlisten sind nach ID sortiert, damit Traversal-Reihenfolge und
// Tie-Breaks reproduzierbar sind.
func (s *PathService) buildAdjacency(ctx context.Context, minStrength float64) (adjacencyView, error) {
	edgeCap := defaultMaxTraversalEdges
	if s.Config != nil && s.Config.MaxTraversalEdges > 0 {
		edgeCap = s.Config.MaxTraversalEdges
	}

	var rels []models.TagRelation
	err := s.DB.WithContext(ctx).
		Where("strength >= ?", minStrength).
		Order("strength DESC, id ASC").
		Limit(edgeCap).
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("load adjacency: %w", err)
	}

	adj := adjacencyView{}
	seen := map[[2]uint]bool{}
	for _, r := range rels {
		key := pairKey(r.SourceTagID, r.TargetTagID)
		if seen[key] || r.SourceTagID == r.TargetTagID {
			continue
		}
		seen[key] = true
		adj[r.SourceTagID] = append(adj[r.SourceTagID], neighborEntry{
			id: r.TargetTagID, strength: r.Strength, relType: r.Type,
		})
		adj[r.TargetTagID] = append(adj[r.TargetTagID], neighborEntry{
			id: r.SourceTagID, strength: r.Strength, relType: r.Type,
		})
	}
	for id := range adj {
		entries := adj[id]
		sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	}
	return adj, nil
}

// validatePathQuery prüft die gemeinsamen Parameter aller Pfad-Operationen,
// bevor der Store angefasst wird.
func (s *PathService) validatePathQuery(from, to uint, maxDepth int, minStrength float64) error {
	if from == 0 || to == 0 {
		return fmt.Errorf("%w: node ids must be set", ErrInvalidInput)
	}
	if from == to {
		return fmt.Errorf("%w: nodes must differ", ErrInvalidInput)
	}
	if maxDepth < 1 {
		return fmt.Errorf("%w: maxDepth must be >= 1", ErrInvalidInput)
	}
	return validateStrength(minStrength)
}

// ensureTagsExist unterscheidet "Tag existiert nicht" (NotFound) von
// "kein Pfad gefunden" (nil-Ergebnis).
func (s *PathService) ensureTagsExist(ctx context.Context, ids ...uint) error {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Tag{}).Where("id IN ?", ids).Count(&count).Error
	if err != nil {
		return err
	}
	if count < int64(len(ids)) {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindShortestPath sucht den Hop-kürzesten Pfad per BFS. Bei gleicher
// Hop-Zahl entscheidet die (ID-sortierte) Einfüge-Reihenfolge der
// Adjazenzliste.
func (s *PathService) FindShortestPath(ctx context.Context, from, to uint, maxDepth int, minStrength float64) (*Path, error) {
	if err := s.validatePathQuery(from, to, maxDepth, minStrength); err != nil {
		return nil, err
	}
	if err := s.ensureTagsExist(ctx, from, to); err != nil {
		return nil, err
	}
	adj, err := s.buildAdjacency(ctx, minStrength)
	if err != nil {
		return nil, err
	}

	ids := bfsShortest(adj, from, to, maxDepth)
	if ids == nil {
		return nil, nil
	}
	return s.materializePath(ctx, adj, ids)
}

// bfsShortest liefert die Knoten-IDs des zuerst gefundenen Pfades oder nil.
func bfsShortest(adj adjacencyView, from, to uint, maxDepth int) []uint {
	visited := map[uint]bool{from: true}
	parent := map[uint]uint{}
	depth := map[uint]int{from: 0}
	queue := []uint{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == to {
			return reconstruct(parent, from, to)
		}
		if depth[current] >= maxDepth {
			continue
		}
		for _, n := range adj[current] {
			if visited[n.id] {
				continue
			}
			visited[n.id] = true
			parent[n.id] = current
			depth[n.id] = depth[current] + 1
			queue = append(queue, n.id)
		}
	}
	return nil
}

// pathHeapItem ist ein Eintrag der Dijkstra-Prioritätswarteschlange;
// hops läuft neben der Distanz mit, damit maxDepth auch dann greift, wenn
// ein tieferer Knoten billiger wäre.
type pathHeapItem struct {
	id   uint
	dist float64
	hops int
}

type pathHeap []pathHeapItem

func (h pathHeap) Len() int { return len(h) }
func (h pathHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].id < h[j].id
}
func (h pathHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pathHeap) Push(x interface{}) { *h = append(*h, x.(pathHeapItem)) }
func (h *pathHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// FindWeightedPath sucht den stärksten Pfad per Dijkstra über die
// Kanten-Distanz 1 - strength: eine 1.0-Kante kostet nichts, eine 0.0-Kante
// kostet 1.
func (s *PathService) FindWeightedPath(ctx context.Context, from, to uint, maxDepth int, minStrength float64) (*Path, error) {
	if err := s.validatePathQuery(from, to, maxDepth, minStrength); err != nil {
		return nil, err
	}
	if err := s.ensureTagsExist(ctx, from, to); err != nil {
		return nil, err
	}
	adj, err := s.buildAdjacency(ctx, minStrength)
	if err != nil {
		return nil, err
	}

	ids := dijkstraPath(adj, from, to, maxDepth)
	if ids == nil {
		return nil, nil
	}
	return s.materializePath(ctx, adj, ids)
}

// dijkstraPath liefert die Knoten-IDs des günstigsten Pfades oder nil.
func dijkstraPath(adj adjacencyView, from, to uint, maxDepth int) []uint {
	dist := map[uint]float64{from: 0}
	hops := map[uint]int{from: 0}
	parent := map[uint]uint{}
	settled := map[uint]bool{}

	pq := &pathHeap{{id: from, dist: 0, hops: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pathHeapItem)
		if settled[item.id] {
			continue
		}
		settled[item.id] = true

		if item.id == to {
			return reconstruct(parent, from, to)
		}
		if item.hops >= maxDepth {
			continue
		}
		for _, n := range adj[item.id] {
			if settled[n.id] {
				continue
			}
			candidate := item.dist + (1 - n.strength)
			if best, ok := dist[n.id]; ok && candidate >= best {
				continue
			}
			dist[n.id] = candidate
			hops[n.id] = item.hops + 1
			parent[n.id] = item.id
			heap.Push(pq, pathHeapItem{id: n.id, dist: candidate, hops: item.hops + 1})
		}
	}
	return nil
}

// FindAllPaths zählt per begrenzter Tiefensuche einfache Pfade auf. Die
// Besucht-Markierung gilt nur für den aktuellen Zweig: verschiedene Pfade
// dürfen Knoten teilen, innerhalb eines Pfades wiederholt sich keiner.
// Ergebnis absteigend nach Gesamt-Stärke, spätestens bei maxPaths ist
// Schluss.
func (s *PathService) FindAllPaths(ctx context.Context, from, to uint, maxDepth, maxPaths int) ([]*Path, error) {
	if err := s.validatePathQuery(from, to, maxDepth, 0); err != nil {
		return nil, err
	}
	if maxPaths < 1 {
		return nil, fmt.Errorf("%w: maxPaths must be >= 1", ErrInvalidInput)
	}
	if err := s.ensureTagsExist(ctx, from, to); err != nil {
		return nil, err
	}
	adj, err := s.buildAdjacency(ctx, 0)
	if err != nil {
		return nil, err
	}

	collector := &pathCollector{
		adj:      adj,
		target:   to,
		maxDepth: maxDepth,
		maxPaths: maxPaths,
		visited:  map[uint]bool{from: true},
		trail:    []uint{from},
	}
	collector.walk(from)

	paths := make([]*Path, 0, len(collector.found))
	for _, ids := range collector.found {
		p, err := s.materializePath(ctx, adj, ids)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].TotalWeight != paths[j].TotalWeight {
			return paths[i].TotalWeight > paths[j].TotalWeight
		}
		return paths[i].Depth < paths[j].Depth
	})
	return paths, nil
}

// pathCollector hält den Zustand der DFS-Aufzählung zusammen.
type pathCollector struct {
	adj      adjacencyView
	target   uint
	maxDepth int
	maxPaths int
	visited  map[uint]bool
	trail    []uint
	found    [][]uint
}

func (c *pathCollector) walk(node uint) {
	if len(c.found) >= c.maxPaths {
		return
	}
	if node == c.target {
		path := make([]uint, len(c.trail))
		copy(path, c.trail)
		c.found = append(c.found, path)
		return
	}
	if len(c.trail)-1 >= c.maxDepth {
		return
	}
	for _, n := range c.adj[node] {
		if c.visited[n.id] {
			continue
		}
		c.visited[n.id] = true
		c.trail = append(c.trail, n.id)
		c.walk(n.id)
		c.trail = c.trail[:len(c.trail)-1]
		c.visited[n.id] = false
		if len(c.found) >= c.maxPaths {
			return
		}
	}
}

// FindCommonNeighbors liefert die Schnittmenge der Nachbarschaften beider
// Knoten, ohne die Knoten selbst.
func (s *PathService) FindCommonNeighbors(ctx context.Context, node1, node2 uint, minStrength float64) ([]PathNode, error) {
	if err := s.validatePathQuery(node1, node2, 1, minStrength); err != nil {
		return nil, err
	}
	if err := s.ensureTagsExist(ctx, node1, node2); err != nil {
		return nil, err
	}
	adj, err := s.buildAdjacency(ctx, minStrength)
	if err != nil {
		return nil, err
	}

	ids := commonNeighborIDs(adj, node1, node2)
	if len(ids) == 0 {
		return []PathNode{}, nil
	}
	return s.loadPathNodes(ctx, ids)
}

// commonNeighborIDs berechnet die gemeinsamen Nachbarn, aufsteigend nach ID.
func commonNeighborIDs(adj adjacencyView, a, b uint) []uint {
	setA := map[uint]bool{}
	for _, n := range adj[a] {
		setA[n.id] = true
	}
	var common []uint
	for _, n := range adj[b] {
		if n.id == a || n.id == b {
			continue
		}
		if setA[n.id] {
			common = append(common, n.id)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	return common
}

// AnalyzeRelationship verdichtet die Beziehung zweier Tags zu einer
// Kennzahl. Priorität: direkte Kante > kürzester Pfad (exponentiell
// abgewertet pro zusätzlichem Hop) > gemeinsame Nachbarn > 0.
func (s *PathService) AnalyzeRelationship(ctx context.Context, node1, node2 uint) (*RelationshipAnalysis, error) {
	if err := s.validatePathQuery(node1, node2, analyzeMaxDepth, 0); err != nil {
		return nil, err
	}
	if err := s.ensureTagsExist(ctx, node1, node2); err != nil {
		return nil, err
	}

	adj, err := s.buildAdjacency(ctx, 0)
	if err != nil {
		return nil, err
	}

	analysis := &RelationshipAnalysis{CommonNeighbors: []PathNode{}}

	// Direkte Kante, in beiden Speicher-Richtungen
	var rel models.TagRelation
	err = s.DB.WithContext(ctx).Where(
		"(source_tag_id = ? AND target_tag_id = ?) OR (source_tag_id = ? AND target_tag_id = ?)",
		node1, node2, node2, node1,
	).First(&rel).Error
	if err == nil {
		analysis.DirectConnection = &PathEdge{
			SourceID: node1,
			TargetID: node2,
			Type:     rel.Type,
			Strength: rel.Strength,
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup direct relation: %w", err)
	}

	if ids := bfsShortest(adj, node1, node2, analyzeMaxDepth); ids != nil {
		p, err := s.materializePath(ctx, adj, ids)
		if err != nil {
			return nil, err
		}
		analysis.ShortestPath = p
	}

	if ids := commonNeighborIDs(adj, node1, node2); len(ids) > 0 {
		nodes, err := s.loadPathNodes(ctx, ids)
		if err != nil {
			return nil, err
		}
		analysis.CommonNeighbors = nodes
	}

	switch {
	case analysis.DirectConnection != nil:
		analysis.ConnectionStrength = analysis.DirectConnection.Strength
	case analysis.ShortestPath != nil && analysis.ShortestPath.Depth > 0:
		avg := analysis.ShortestPath.TotalWeight / float64(analysis.ShortestPath.Depth)
		decay := math.Pow(analyzeDecayFactor, float64(analysis.ShortestPath.Depth-1))
		analysis.ConnectionStrength = avg * decay
	case len(analysis.CommonNeighbors) > 0:
		ratio := float64(len(analysis.CommonNeighbors)) / float64(neighborStrengthCap)
		analysis.ConnectionStrength = 0.1 * math.Min(1, ratio)
	}

	return analysis, nil
}

// reconstruct läuft die Parent-Kette von to nach from rückwärts ab.
func reconstruct(parent map[uint]uint, from, to uint) []uint {
	ids := []uint{to}
	for current := to; current != from; {
		prev, ok := parent[current]
		if !ok {
			return nil
		}
		ids = append(ids, prev)
		current = prev
	}
	// umdrehen: from zuerst
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// materializePath lädt die Tag-Daten und baut Kanten samt Gewichtssumme aus
// der Adjazenz-Sicht zusammen.
func (s *PathService) materializePath(ctx context.Context, adj adjacencyView, ids []uint) (*Path, error) {
	nodes, err := s.loadPathNodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	path := &Path{
		Nodes: nodes,
		Edges: make([]PathEdge, 0, len(ids)-1),
		Depth: len(ids) - 1,
	}
	for i := 0; i+1 < len(ids); i++ {
		entry, ok := lookupNeighbor(adj, ids[i], ids[i+1])
		if !ok {
			return nil, fmt.Errorf("edge %d-%d missing from adjacency", ids[i], ids[i+1])
		}
		path.Edges = append(path.Edges, PathEdge{
			SourceID: ids[i],
			TargetID: ids[i+1],
			Type:     entry.relType,
			Strength: entry.strength,
		})
		path.TotalWeight += entry.strength
	}
	return path, nil
}

// loadPathNodes lädt Tags in der Reihenfolge der übergebenen IDs.
func (s *PathService) loadPathNodes(ctx context.Context, ids []uint) ([]PathNode, error) {
	var tags []models.Tag
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load path nodes: %w", err)
	}
	byID := make(map[uint]*models.Tag, len(tags))
	for i := range tags {
		byID[tags[i].ID] = &tags[i]
	}
	nodes := make([]PathNode, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			nodes = append(nodes, PathNode{ID: t.ID, Name: t.Name, Type: t.Type})
		} else {
			nodes = append(nodes, PathNode{ID: id})
		}
	}
	return nodes, nil
}

// lookupNeighbor sucht den Eintrag für "to" in der Nachbarliste von "from".
func lookupNeighbor(adj adjacencyView, from, to uint) (neighborEntry, bool) {
	for _, n := range adj[from] {
		if n.id == to {
			return n, true
		}
	}
	return neighborEntry{}, false
}
