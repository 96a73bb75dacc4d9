package services

import (
	"context"
	"fmt"
	"sort"

	"news-pulse/models"
)

// clusterStrengthFloor ist die feste Untergrenze für Kanten, die bei der
// Cluster-Erkennung als Verbindung zählen.
const clusterStrengthFloor = 0.2

// Cluster ist eine Zusammenhangskomponente des Graphen oberhalb des
// Stärke-Sockels.
type Cluster struct {
	ID            int         `json:"id"`
	CentralNode   GraphNode   `json:"central_node"`
	Members       []GraphNode `json:"members"`
	MemberCount   int         `json:"member_count"`
	TotalMentions int         `json:"total_mentions"`
	AvgSentiment  float64     `json:"avg_sentiment"`
}

// CentralityScore ist die Grad-Zentralität eines Tags relativ zum
// höchsten Grad im Korpus.
type CentralityScore struct {
	TagID      uint           `json:"tag_id"`
	Name       string         `json:"name"`
	Type       models.TagType `json:"type"`
	Degree     int            `json:"degree"`
	Centrality float64        `json:"centrality"`
}

// unionFind ist eine Arena-Implementierung über dichte Indizes: Tag-IDs
// werden vorab auf 0..n-1 abgebildet, find läuft iterativ mit Path-Halving,
// union nach Rang. Bewusst ohne Rekursion und ohne Closures.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]] // Path-Halving
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// DetectClusters gruppiert Tags in Zusammenhangskomponenten über alle Kanten
// mit strength >= 0.2. Komponenten kleiner als minClusterSize fallen weg;
// der zentrale Knoten jeder Komponente ist das Mitglied mit den meisten
// Mentions. Sortierung: Mitgliederzahl absteigend.
func (s *GraphService) DetectClusters(ctx context.Context, minClusterSize int) ([]Cluster, error) {
	if minClusterSize < 1 {
		return nil, fmt.Errorf("%w: minClusterSize must be >= 1", ErrInvalidInput)
	}

	db := s.DB.WithContext(ctx)

	var rels []models.TagRelation
	err := db.Select("source_tag_id", "target_tag_id").
		Where("strength >= ?", clusterStrengthFloor).
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("load cluster edges: %w", err)
	}
	if len(rels) == 0 {
		return []Cluster{}, nil
	}

	// Tag-ID -> dichter Index
	index := map[uint]int{}
	var ids []uint
	for _, r := range rels {
		for _, id := range []uint{r.SourceTagID, r.TargetTagID} {
			if _, ok := index[id]; !ok {
				index[id] = len(ids)
				ids = append(ids, id)
			}
		}
	}

	uf := newUnionFind(len(ids))
	for _, r := range rels {
		uf.union(index[r.SourceTagID], index[r.TargetTagID])
	}

	components := map[int][]uint{}
	for id, idx := range index {
		root := uf.find(idx)
		components[root] = append(components[root], id)
	}

	var memberIDs []uint
	var surviving [][]uint
	for _, member := range components {
		if len(member) < minClusterSize {
			continue
		}
		surviving = append(surviving, member)
		memberIDs = append(memberIDs, member...)
	}
	if len(surviving) == 0 {
		return []Cluster{}, nil
	}

	var tags []models.Tag
	if err := db.Where("id IN ?", memberIDs).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load cluster members: %w", err)
	}
	byID := make(map[uint]*models.Tag, len(tags))
	for i := range tags {
		byID[tags[i].ID] = &tags[i]
	}

	clusters := make([]Cluster, 0, len(surviving))
	for _, member := range surviving {
		var nodes []GraphNode
		totalMentions := 0
		sentimentSum := 0.0
		for _, id := range member {
			t, ok := byID[id]
			if !ok {
				continue
			}
			nodes = append(nodes, nodeFromTag(t))
			totalMentions += t.TotalMentions
			sentimentSum += t.AvgSentiment
		}
		if len(nodes) < minClusterSize {
			continue
		}
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].MentionCount != nodes[j].MentionCount {
				return nodes[i].MentionCount > nodes[j].MentionCount
			}
			return nodes[i].ID < nodes[j].ID
		})
		clusters = append(clusters, Cluster{
			CentralNode:   nodes[0],
			Members:       nodes,
			MemberCount:   len(nodes),
			TotalMentions: totalMentions,
			AvgSentiment:  sentimentSum / float64(len(nodes)),
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].MemberCount != clusters[j].MemberCount {
			return clusters[i].MemberCount > clusters[j].MemberCount
		}
		return clusters[i].CentralNode.ID < clusters[j].CentralNode.ID
	})
	for i := range clusters {
		clusters[i].ID = i + 1
	}
	return clusters, nil
}

// CalculateCentrality berechnet die Grad-Zentralität aller Tags mit
// mindestens einer Kante: Grad geteilt durch den höchsten Grad im Korpus,
// absteigend sortiert, höchstens 50 Einträge.
func (s *GraphService) CalculateCentrality(ctx context.Context) ([]CentralityScore, error) {
	db := s.DB.WithContext(ctx)

	var rels []models.TagRelation
	err := db.Select("source_tag_id", "target_tag_id").Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("load relations for centrality: %w", err)
	}
	if len(rels) == 0 {
		return []CentralityScore{}, nil
	}

	degree := map[uint]int{}
	for _, r := range rels {
		degree[r.SourceTagID]++
		degree[r.TargetTagID]++
	}
	maxDegree := 0
	for _, d := range degree {
		if d > maxDegree {
			maxDegree = d
		}
	}

	scores := make([]CentralityScore, 0, len(degree))
	for id, d := range degree {
		scores = append(scores, CentralityScore{
			TagID:      id,
			Degree:     d,
			Centrality: float64(d) / float64(maxDegree),
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Centrality != scores[j].Centrality {
			return scores[i].Centrality > scores[j].Centrality
		}
		return scores[i].TagID < scores[j].TagID
	})
	if len(scores) > 50 {
		scores = scores[:50]
	}

	ids := make([]uint, 0, len(scores))
	for _, sc := range scores {
		ids = append(ids, sc.TagID)
	}
	var tags []models.Tag
	if err := db.Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load central tags: %w", err)
	}
	byID := make(map[uint]*models.Tag, len(tags))
	for i := range tags {
		byID[tags[i].ID] = &tags[i]
	}
	for i := range scores {
		if t, ok := byID[scores[i].TagID]; ok {
			scores[i].Name = t.Name
			scores[i].Type = t.Type
		}
	}
	return scores, nil
}
