package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"news-pulse/config"
	"news-pulse/models"
)

// hotTrendCandidateCap begrenzt die Kandidatenmenge vor dem
// Wachstums-Ranking (Kostenkontrolle).
const hotTrendCandidateCap = 100

// RelatedTag ist ein im Fenster co-okkurrierender Tag.
type RelatedTag struct {
	TagID         uint   `json:"tag_id"`
	Name          string `json:"name"`
	CoOccurrences int    `json:"co_occurrences"`
}

// TrendData ist das Ergebnis von AggregateTagData über das gleitende
// Fenster [now-Δ, now]. PeriodStart/PeriodEnd beschreiben dieses Fenster;
// der Snapshot-Schlüssel wird erst beim Persistieren auf die Bucket-Grenze
// gelegt.
type TrendData struct {
	TagID       uint              `json:"tag_id"`
	PeriodType  models.PeriodType `json:"period_type"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`

	MentionCount   int     `json:"mention_count"`
	UniqueArticles int     `json:"unique_articles"`
	UniqueSources  int     `json:"unique_sources"`
	AvgSentiment   float64 `json:"avg_sentiment"`
	AvgRelevance   float64 `json:"avg_relevance"`

	VelocityChange     *float64 `json:"velocity_change,omitempty"`
	AccelerationChange *float64 `json:"acceleration_change,omitempty"`

	RelatedTags           []RelatedTag   `json:"related_tags"`
	TopArticles           []string       `json:"top_articles"`
	SentimentDistribution map[string]int `json:"sentiment_distribution"`
}

// HotTrend ist ein Eintrag des Wachstums-Rankings.
type HotTrend struct {
	TagID         uint           `json:"tag_id"`
	Name          string         `json:"name"`
	Type          models.TagType `json:"type"`
	MentionCount  int            `json:"mention_count"`
	PreviousCount int            `json:"previous_count"`
	GrowthPercent float64        `json:"growth_percent"`
	AvgSentiment  float64        `json:"avg_sentiment"`
}

// TrendService berechnet Fenster-Aggregationen pro Tag und persistiert sie
// als Snapshots.
type TrendService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewTrendService erstellt eine neue Instanz des TrendService.
func NewTrendService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *TrendService {
	return &TrendService{
		Config: cfg,
		DB:     db,
		Logger: logger,
	}
}

// periodDuration validiert den Period-Typ.
func periodDuration(period models.PeriodType) (time.Duration, error) {
	d, ok := period.Duration()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return d, nil
}

// AggregateTagData aggregiert das aktuelle Fenster eines Tags und berechnet
// Velocity (vs. Vorfenster) und Acceleration (Velocity-Differenz zum noch
// früheren Fenster). Velocity ist nil, wenn weder aktuelles noch Vorfenster
// Mentions haben; Acceleration nur berechenbar, wenn Vorfenster UND das
// Fenster davor Mentions haben.
func (s *TrendService) AggregateTagData(ctx context.Context, tagID uint, period models.PeriodType) (*TrendData, error) {
	delta, err := periodDuration(period)
	if err != nil {
		return nil, err
	}
	if tagID == 0 {
		return nil, fmt.Errorf("%w: tagID must be set", ErrInvalidInput)
	}

	db := s.DB.WithContext(ctx)

	var tag models.Tag
	if err := db.First(&tag, tagID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	windowStart := now.Add(-delta)
	prevStart := now.Add(-2 * delta)
	twoBackStart := now.Add(-3 * delta)

	data := &TrendData{
		TagID:                 tagID,
		PeriodType:            period,
		PeriodStart:           windowStart,
		PeriodEnd:             now,
		RelatedTags:           []RelatedTag{},
		TopArticles:           []string{},
		SentimentDistribution: map[string]int{},
	}

	// Aktuelles Fenster
	var cur struct {
		MentionCount   int
		UniqueArticles int
		AvgSentiment   float64
		AvgRelevance   float64
	}
	err = db.Model(&models.TagMention{}).
		Select("COUNT(*) AS mention_count, COUNT(DISTINCT article_id) AS unique_articles, "+
			"COALESCE(AVG(sentiment_score), 0) AS avg_sentiment, COALESCE(AVG(relevance), 0) AS avg_relevance").
		Where("tag_id = ? AND created_at >= ?", tagID, windowStart).
		Scan(&cur).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate current window: %w", err)
	}
	data.MentionCount = cur.MentionCount
	data.UniqueArticles = cur.UniqueArticles
	data.AvgSentiment = cur.AvgSentiment
	data.AvgRelevance = cur.AvgRelevance

	var uniqueSources int64
	err = db.Model(&models.TagMention{}).
		Joins("JOIN articles ON articles.id = tag_mentions.article_id").
		Where("tag_mentions.tag_id = ? AND tag_mentions.created_at >= ?", tagID, windowStart).
		Distinct("articles.source_id").
		Count(&uniqueSources).Error
	if err != nil {
		return nil, fmt.Errorf("count unique sources: %w", err)
	}
	data.UniqueSources = int(uniqueSources)

	// Vergleichsfenster
	prevCount, err := s.countWindow(ctx, tagID, prevStart, windowStart)
	if err != nil {
		return nil, err
	}
	twoBackCount, err := s.countWindow(ctx, tagID, twoBackStart, prevStart)
	if err != nil {
		return nil, err
	}

	data.VelocityChange = velocity(data.MentionCount, prevCount)
	if prevCount > 0 && twoBackCount > 0 {
		currentVelocity := *data.VelocityChange
		previousVelocity := float64(prevCount-twoBackCount) / float64(twoBackCount) * 100
		acceleration := currentVelocity - previousVelocity
		data.AccelerationChange = &acceleration
	}

	if data.MentionCount > 0 {
		related, err := s.relatedTagsInWindow(ctx, tagID, windowStart)
		if err != nil {
			return nil, err
		}
		data.RelatedTags = related

		var articleIDs []string
		err = db.Model(&models.TagMention{}).
			Where("tag_id = ? AND created_at >= ?", tagID, windowStart).
			Order("relevance DESC, article_id ASC").
			Limit(5).
			Pluck("article_id", &articleIDs).Error
		if err != nil {
			return nil, fmt.Errorf("load top articles: %w", err)
		}
		data.TopArticles = articleIDs

		var scores []float64
		err = db.Model(&models.TagMention{}).
			Where("tag_id = ? AND created_at >= ?", tagID, windowStart).
			Pluck("sentiment_score", &scores).Error
		if err != nil {
			return nil, fmt.Errorf("load sentiment scores: %w", err)
		}
		data.SentimentDistribution = sentimentHistogram(scores)
	}

	return data, nil
}

// velocity berechnet die prozentuale Veränderung gegenüber dem Vorfenster.
// Kein Vorfenster, aber aktuelle Aktivität => 100 (neuer Trend); beides
// leer => nil.
func velocity(current, previous int) *float64 {
	var v float64
	switch {
	case previous > 0:
		v = float64(current-previous) / float64(previous) * 100
	case current > 0:
		v = 100
	default:
		return nil
	}
	return &v
}

// sentimentHistogram bucket-isiert Scores in fünf Stufen
// (Schnitte bei -0.6 / -0.2 / 0.2 / 0.6).
func sentimentHistogram(scores []float64) map[string]int {
	hist := map[string]int{
		"very_negative": 0,
		"negative":      0,
		"neutral":       0,
		"positive":      0,
		"very_positive": 0,
	}
	for _, score := range scores {
		switch {
		case score <= -0.6:
			hist["very_negative"]++
		case score <= -0.2:
			hist["negative"]++
		case score < 0.2:
			hist["neutral"]++
		case score < 0.6:
			hist["positive"]++
		default:
			hist["very_positive"]++
		}
	}
	return hist
}

// countWindow zählt Mentions eines Tags in [from, to).
func (s *TrendService) countWindow(ctx context.Context, tagID uint, from, to time.Time) (int, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.TagMention{}).
		Where("tag_id = ? AND created_at >= ? AND created_at < ?", tagID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count window mentions: %w", err)
	}
	return int(count), nil
}

// relatedTagsInWindow liefert die fünf Tags mit den meisten gemeinsamen
// Artikeln im Fenster.
func (s *TrendService) relatedTagsInWindow(ctx context.Context, tagID uint, windowStart time.Time) ([]RelatedTag, error) {
	var rows []struct {
		TagID uint
		Cnt   int
	}
	err := s.DB.WithContext(ctx).Raw(`
		SELECT m2.tag_id AS tag_id, COUNT(DISTINCT m2.article_id) AS cnt
		FROM tag_mentions m1
		JOIN tag_mentions m2 ON m2.article_id = m1.article_id AND m2.tag_id <> m1.tag_id
		WHERE m1.tag_id = ? AND m1.created_at >= ? AND m2.created_at >= ?
		GROUP BY m2.tag_id
		ORDER BY cnt DESC, m2.tag_id ASC
		LIMIT 5`,
		tagID, windowStart, windowStart).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load related tags: %w", err)
	}
	if len(rows) == 0 {
		return []RelatedTag{}, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.TagID)
	}
	var tags []models.Tag
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load related tag names: %w", err)
	}
	names := make(map[uint]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}

	related := make([]RelatedTag, 0, len(rows))
	for _, r := range rows {
		related = append(related, RelatedTag{TagID: r.TagID, Name: names[r.TagID], CoOccurrences: r.Cnt})
	}
	return related, nil
}

// CreateSnapshot aggregiert das aktuelle Fenster und upsertet den Snapshot
// unter (tag_id, period_type, period_start); period_start ist die auf die
// Fensterlänge abgerundete Bucket-Grenze (UTC), damit wiederholte Läufe im
// selben Bucket dieselbe Zeile überschreiben. Ein Fenster ohne Mentions
// wird nicht persistiert: Rückgabe (nil, nil).
func (s *TrendService) CreateSnapshot(ctx context.Context, tagID uint, period models.PeriodType) (*models.TrendSnapshot, error) {
	delta, err := periodDuration(period)
	if err != nil {
		return nil, err
	}

	data, err := s.AggregateTagData(ctx, tagID, period)
	if err != nil {
		return nil, err
	}
	if data.MentionCount == 0 {
		return nil, nil
	}

	periodStart := time.Now().UTC().Truncate(delta)
	snapshot := models.TrendSnapshot{
		TagID:              tagID,
		PeriodType:         period,
		PeriodStart:        periodStart,
		PeriodEnd:          periodStart.Add(delta),
		MentionCount:       data.MentionCount,
		UniqueArticles:     data.UniqueArticles,
		UniqueSources:      data.UniqueSources,
		AvgSentiment:       data.AvgSentiment,
		AvgRelevance:       data.AvgRelevance,
		VelocityChange:     data.VelocityChange,
		AccelerationChange: data.AccelerationChange,
	}
	if snapshot.RelatedTags, err = json.Marshal(data.RelatedTags); err != nil {
		return nil, fmt.Errorf("marshal related tags: %w", err)
	}
	if snapshot.TopArticles, err = json.Marshal(data.TopArticles); err != nil {
		return nil, fmt.Errorf("marshal top articles: %w", err)
	}
	if snapshot.SentimentDistribution, err = json.Marshal(data.SentimentDistribution); err != nil {
		return nil, fmt.Errorf("marshal sentiment distribution: %w", err)
	}

	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tag_id"}, {Name: "period_type"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"period_end", "mention_count", "unique_articles", "unique_sources",
			"avg_sentiment", "avg_relevance", "velocity_change", "acceleration_change",
			"related_tags", "top_articles", "sentiment_distribution", "updated_at",
		}),
	}).Create(&snapshot).Error
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}
	return &snapshot, nil
}

// GetHotTrends rankt die aktivsten Tags des Fensters nach Wachstum
// gegenüber dem Vorfenster. Kandidaten sind höchstens die 100 Tags mit den
// meisten Fenster-Mentions.
func (s *TrendService) GetHotTrends(ctx context.Context, period models.PeriodType, limit int) ([]HotTrend, error) {
	delta, err := periodDuration(period)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be >= 1", ErrInvalidInput)
	}
	if limit > hotTrendCandidateCap {
		limit = hotTrendCandidateCap
	}

	db := s.DB.WithContext(ctx)
	now := time.Now().UTC()
	windowStart := now.Add(-delta)
	prevStart := now.Add(-2 * delta)

	var candidates []struct {
		TagID    uint
		Cnt      int
		AvgScore float64
	}
	err = db.Model(&models.TagMention{}).
		Select("tag_id, COUNT(*) AS cnt, COALESCE(AVG(sentiment_score), 0) AS avg_score").
		Where("created_at >= ?", windowStart).
		Group("tag_id").
		Order("cnt DESC, tag_id ASC").
		Limit(hotTrendCandidateCap).
		Scan(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("load hot trend candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []HotTrend{}, nil
	}

	ids := make([]uint, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.TagID)
	}

	var prevRows []struct {
		TagID uint
		Cnt   int
	}
	err = db.Model(&models.TagMention{}).
		Select("tag_id, COUNT(*) AS cnt").
		Where("tag_id IN ? AND created_at >= ? AND created_at < ?", ids, prevStart, windowStart).
		Group("tag_id").
		Scan(&prevRows).Error
	if err != nil {
		return nil, fmt.Errorf("load previous window counts: %w", err)
	}
	prevByTag := make(map[uint]int, len(prevRows))
	for _, r := range prevRows {
		prevByTag[r.TagID] = r.Cnt
	}

	var tags []models.Tag
	if err := db.Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load hot trend tags: %w", err)
	}
	tagByID := make(map[uint]*models.Tag, len(tags))
	for i := range tags {
		tagByID[tags[i].ID] = &tags[i]
	}

	trends := make([]HotTrend, 0, len(candidates))
	for _, c := range candidates {
		t, ok := tagByID[c.TagID]
		if !ok {
			continue
		}
		prev := prevByTag[c.TagID]
		growth := velocity(c.Cnt, prev)
		if growth == nil {
			continue
		}
		trends = append(trends, HotTrend{
			TagID:         c.TagID,
			Name:          t.Name,
			Type:          t.Type,
			MentionCount:  c.Cnt,
			PreviousCount: prev,
			GrowthPercent: *growth,
			AvgSentiment:  c.AvgScore,
		})
	}

	// höheres Wachstum zuerst, dann mehr Mentions, dann ID
	sort.Slice(trends, func(i, j int) bool {
		if trends[i].GrowthPercent != trends[j].GrowthPercent {
			return trends[i].GrowthPercent > trends[j].GrowthPercent
		}
		if trends[i].MentionCount != trends[j].MentionCount {
			return trends[i].MentionCount > trends[j].MentionCount
		}
		return trends[i].TagID < trends[j].TagID
	})
	if len(trends) > limit {
		trends = trends[:limit]
	}
	return trends, nil
}

// GetTagTimeline liefert die jüngsten Snapshots eines Tags, neueste zuerst.
func (s *TrendService) GetTagTimeline(ctx context.Context, tagID uint, period models.PeriodType, periods int) ([]models.TrendSnapshot, error) {
	if _, err := periodDuration(period); err != nil {
		return nil, err
	}
	if tagID == 0 {
		return nil, fmt.Errorf("%w: tagID must be set", ErrInvalidInput)
	}
	if periods < 1 {
		return nil, fmt.Errorf("%w: periods must be >= 1", ErrInvalidInput)
	}

	var snapshots []models.TrendSnapshot
	err := s.DB.WithContext(ctx).
		Where("tag_id = ? AND period_type = ?", tagID, period).
		Order("period_start DESC").
		Limit(periods).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	return snapshots, nil
}

// CreateSnapshotsForAllTags erstellt Snapshots für jeden Tag mit Aktivität
// im aktuellen Fenster. Einzelfehler brechen den Lauf nicht ab; zurück
// kommt die Anzahl erfolgreich geschriebener Snapshots.
func (s *TrendService) CreateSnapshotsForAllTags(ctx context.Context, period models.PeriodType) (int, error) {
	delta, err := periodDuration(period)
	if err != nil {
		return 0, err
	}

	windowStart := time.Now().UTC().Add(-delta)
	var tagIDs []uint
	err = s.DB.WithContext(ctx).Model(&models.TagMention{}).
		Where("created_at >= ?", windowStart).
		Distinct("tag_id").
		Order("tag_id ASC").
		Pluck("tag_id", &tagIDs).Error
	if err != nil {
		return 0, fmt.Errorf("list active tags: %w", err)
	}

	created := 0
	failed := 0
	for _, tagID := range tagIDs {
		snapshot, err := s.CreateSnapshot(ctx, tagID, period)
		if err != nil {
			failed++
			s.Logger.Error("Snapshot fehlgeschlagen",
				zap.Uint("tag_id", tagID),
				zap.String("period", string(period)),
				zap.Error(err))
			continue
		}
		if snapshot != nil {
			created++
		}
	}

	s.Logger.Info("Snapshot-Lauf abgeschlossen",
		zap.String("period", string(period)),
		zap.Int("attempted", len(tagIDs)),
		zap.Int("created", created),
		zap.Int("failed", failed))
	return created, nil
}
