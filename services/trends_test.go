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

func newTrendService(t *testing.T) *TrendService {
	t.Helper()
	return NewTrendService(testConfig(), openTestDB(t), zap.NewNop())
}

func TestVelocity(t *testing.T) {
	cases := []struct {
		name     string
		current  int
		previous int
		want     *float64
	}{
		{"growth", 15, 10, ptrFloat(50)},
		{"decline", 5, 10, ptrFloat(-50)},
		{"flat", 10, 10, ptrFloat(0)},
		{"new trend", 5, 0, ptrFloat(100)},
		{"died off", 0, 10, ptrFloat(-100)},
		{"no data", 0, 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := velocity(tc.current, tc.previous)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("velocity(%d, %d) = %v, want %v", tc.current, tc.previous, got, tc.want)
			}
			if got != nil && math.Abs(*got-*tc.want) > 1e-9 {
				t.Errorf("velocity(%d, %d) = %f, want %f", tc.current, tc.previous, *got, *tc.want)
			}
		})
	}
}

func ptrFloat(v float64) *float64 { return &v }

func TestSentimentHistogram(t *testing.T) {
	hist := sentimentHistogram([]float64{-0.8, -0.6, -0.4, -0.2, 0.0, 0.19, 0.2, 0.5, 0.6, 0.9})
	want := map[string]int{
		"very_negative": 2, // -0.8, -0.6
		"negative":      2, // -0.4, -0.2
		"neutral":       2, // 0.0, 0.19
		"positive":      2, // 0.2, 0.5
		"very_positive": 2, // 0.6, 0.9
	}
	for bucket, count := range want {
		if hist[bucket] != count {
			t.Errorf("bucket %s: expected %d, got %d", bucket, count, hist[bucket])
		}
	}

	empty := sentimentHistogram(nil)
	if len(empty) != 5 {
		t.Errorf("expected all buckets present for empty input, got %v", empty)
	}
}

func TestAggregateTagDataWindows(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bitcoin := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)
	etf := mustTag(t, svc.DB, "ETF", models.TagTypeTopic)

	// aktuelles Fenster: 3 Mentions aus 2 Quellen, eine teilt den Artikel
	// mit ETF
	mustMentionFrom(t, svc.DB, bitcoin.ID, "reuters", now.Add(-10*time.Minute), 0.5)
	mustMentionFrom(t, svc.DB, bitcoin.ID, "bloomberg", now.Add(-10*time.Minute), 0.5)
	shared := &models.Article{Title: "Shared", SourceID: "reuters", PublishedAt: now, CreatedAt: now.Add(-5 * time.Minute)}
	if err := svc.DB.Create(shared).Error; err != nil {
		t.Fatalf("create shared article: %v", err)
	}
	for _, tagID := range []uint{bitcoin.ID, etf.ID} {
		mention := &models.TagMention{
			TagID:          tagID,
			ArticleID:      shared.ID,
			CreatedAt:      now.Add(-5 * time.Minute),
			Sentiment:      models.SentimentPositive,
			SentimentScore: 0.5,
			Relevance:      0.5,
		}
		if err := svc.DB.Create(mention).Error; err != nil {
			t.Fatalf("create shared mention: %v", err)
		}
	}

	// Vorfenster: 2 Mentions, Fenster davor: 1 Mention
	mustMention(t, svc.DB, bitcoin.ID, now.Add(-90*time.Minute), 0.0)
	mustMention(t, svc.DB, bitcoin.ID, now.Add(-95*time.Minute), 0.0)
	mustMention(t, svc.DB, bitcoin.ID, now.Add(-150*time.Minute), 0.0)

	data, err := svc.AggregateTagData(ctx, bitcoin.ID, models.Period1h)
	if err != nil {
		t.Fatalf("AggregateTagData: %v", err)
	}
	if data.MentionCount != 3 {
		t.Errorf("expected 3 mentions in window, got %d", data.MentionCount)
	}
	if data.UniqueArticles != 3 {
		t.Errorf("expected 3 unique articles, got %d", data.UniqueArticles)
	}
	if data.UniqueSources != 2 {
		t.Errorf("expected 2 unique sources, got %d", data.UniqueSources)
	}
	if math.Abs(data.AvgSentiment-0.5) > 1e-9 {
		t.Errorf("expected avg sentiment 0.5, got %f", data.AvgSentiment)
	}
	if data.VelocityChange == nil || math.Abs(*data.VelocityChange-50) > 1e-9 {
		t.Errorf("expected velocity 50, got %v", data.VelocityChange)
	}
	// Vorfenster wuchs um 100, aktuelles nur um 50
	if data.AccelerationChange == nil || math.Abs(*data.AccelerationChange+50) > 1e-9 {
		t.Errorf("expected acceleration -50, got %v", data.AccelerationChange)
	}
	if len(data.RelatedTags) != 1 || data.RelatedTags[0].TagID != etf.ID || data.RelatedTags[0].CoOccurrences != 1 {
		t.Errorf("expected ETF as related tag, got %v", data.RelatedTags)
	}
	if len(data.TopArticles) != 3 {
		t.Errorf("expected 3 top articles, got %d", len(data.TopArticles))
	}
	if data.SentimentDistribution["positive"] != 3 {
		t.Errorf("expected 3 positive scores, got %v", data.SentimentDistribution)
	}
}

func TestAggregateTagDataValidation(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()

	tag := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)

	if _, err := svc.AggregateTagData(ctx, tag.ID, models.PeriodType("13h")); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("bad period: expected ErrInvalidPeriod, got %v", err)
	}
	if _, err := svc.AggregateTagData(ctx, 0, models.Period1h); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero tag id: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.AggregateTagData(ctx, 4242, models.Period1h); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("unknown tag: expected gorm.ErrRecordNotFound, got %v", err)
	}
}

func TestCreateSnapshotSkipsEmptyWindow(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()

	tag := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)
	// einzige Mention liegt weit vor dem Fenster
	mustMention(t, svc.DB, tag.ID, time.Now().UTC().Add(-48*time.Hour), 0.0)

	snapshot, err := svc.CreateSnapshot(ctx, tag.ID, models.Period1h)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snapshot != nil {
		t.Errorf("expected nil snapshot for empty window, got %+v", snapshot)
	}

	var count int64
	svc.DB.Model(&models.TrendSnapshot{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no persisted snapshot, got %d rows", count)
	}
}

func TestCreateSnapshotUpsertsBucket(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tag := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)
	mustMention(t, svc.DB, tag.ID, now.Add(-5*time.Minute), 0.4)

	first, err := svc.CreateSnapshot(ctx, tag.ID, models.Period1h)
	if err != nil {
		t.Fatalf("first CreateSnapshot: %v", err)
	}
	if first == nil || first.MentionCount != 1 {
		t.Fatalf("expected snapshot with 1 mention, got %+v", first)
	}
	if !first.PeriodEnd.Equal(first.PeriodStart.Add(time.Hour)) {
		t.Errorf("expected period end one hour after start, got %v-%v", first.PeriodStart, first.PeriodEnd)
	}
	if first.VelocityChange == nil || *first.VelocityChange != 100 {
		t.Errorf("expected velocity 100 for fresh activity, got %v", first.VelocityChange)
	}

	mustMention(t, svc.DB, tag.ID, now.Add(-4*time.Minute), 0.4)
	second, err := svc.CreateSnapshot(ctx, tag.ID, models.Period1h)
	if err != nil {
		t.Fatalf("second CreateSnapshot: %v", err)
	}
	if second.MentionCount != 2 {
		t.Errorf("expected updated mention count 2, got %d", second.MentionCount)
	}

	var count int64
	svc.DB.Model(&models.TrendSnapshot{}).Where("tag_id = ?", tag.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected single upserted row per bucket, got %d", count)
	}
}

func TestGetHotTrendsRanking(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bitcoin := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)
	etf := mustTag(t, svc.DB, "ETF", models.TagTypeTopic)
	fed := mustTag(t, svc.DB, "Federal Reserve", models.TagTypeEntity)

	seed := func(tagID uint, current, previous int) {
		for i := 0; i < current; i++ {
			mustMention(t, svc.DB, tagID, now.Add(-time.Duration(i+1)*time.Minute), 0.2)
		}
		for i := 0; i < previous; i++ {
			mustMention(t, svc.DB, tagID, now.Add(-90*time.Minute), 0.2)
		}
	}
	seed(bitcoin.ID, 4, 2) // +100%
	seed(etf.ID, 3, 1)     // +200%
	seed(fed.ID, 2, 4)     // -50%

	trends, err := svc.GetHotTrends(ctx, models.Period1h, 10)
	if err != nil {
		t.Fatalf("GetHotTrends: %v", err)
	}
	if len(trends) != 3 {
		t.Fatalf("expected 3 trends, got %d", len(trends))
	}
	if trends[0].TagID != etf.ID || trends[1].TagID != bitcoin.ID || trends[2].TagID != fed.ID {
		t.Errorf("expected growth ranking ETF > Bitcoin > Fed, got %v", trends)
	}
	if math.Abs(trends[0].GrowthPercent-200) > 1e-9 {
		t.Errorf("expected 200%% growth for ETF, got %f", trends[0].GrowthPercent)
	}
	if trends[1].MentionCount != 4 || trends[1].PreviousCount != 2 {
		t.Errorf("expected counts 4/2 for Bitcoin, got %d/%d",
			trends[1].MentionCount, trends[1].PreviousCount)
	}
	if trends[0].Name != "ETF" || trends[0].Type != models.TagTypeTopic {
		t.Errorf("expected resolved tag metadata, got %+v", trends[0])
	}

	limited, err := svc.GetHotTrends(ctx, models.Period1h, 2)
	if err != nil {
		t.Fatalf("GetHotTrends with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2 applied, got %d", len(limited))
	}

	if _, err := svc.GetHotTrends(ctx, models.Period1h, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("limit 0: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetHotTrends(ctx, models.PeriodType("2d"), 5); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("bad period: expected ErrInvalidPeriod, got %v", err)
	}
}

func TestGetHotTrendsEmptyStore(t *testing.T) {
	svc := newTrendService(t)

	trends, err := svc.GetHotTrends(context.Background(), models.Period24h, 5)
	if err != nil {
		t.Fatalf("GetHotTrends: %v", err)
	}
	if trends == nil || len(trends) != 0 {
		t.Errorf("expected empty but non-nil result, got %v", trends)
	}
}

func TestGetTagTimeline(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()

	tag := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)
	base := time.Now().UTC().Truncate(time.Hour)
	for i := 0; i < 3; i++ {
		snapshot := &models.TrendSnapshot{
			TagID:        tag.ID,
			PeriodType:   models.Period1h,
			PeriodStart:  base.Add(-time.Duration(i) * time.Hour),
			PeriodEnd:    base.Add(-time.Duration(i-1) * time.Hour),
			MentionCount: 10 - i,
		}
		if err := svc.DB.Create(snapshot).Error; err != nil {
			t.Fatalf("create snapshot: %v", err)
		}
	}
	// anderer Period-Typ darf nicht in die Timeline rutschen
	daily := &models.TrendSnapshot{
		TagID: tag.ID, PeriodType: models.Period24h,
		PeriodStart: base.Add(-24 * time.Hour), PeriodEnd: base, MentionCount: 99,
	}
	if err := svc.DB.Create(daily).Error; err != nil {
		t.Fatalf("create daily snapshot: %v", err)
	}

	timeline, err := svc.GetTagTimeline(ctx, tag.ID, models.Period1h, 2)
	if err != nil {
		t.Fatalf("GetTagTimeline: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(timeline))
	}
	if !timeline[0].PeriodStart.After(timeline[1].PeriodStart) {
		t.Errorf("expected newest first, got %v then %v", timeline[0].PeriodStart, timeline[1].PeriodStart)
	}
	if timeline[0].MentionCount != 10 {
		t.Errorf("expected newest snapshot first, got count %d", timeline[0].MentionCount)
	}

	if _, err := svc.GetTagTimeline(ctx, tag.ID, models.Period1h, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("periods 0: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetTagTimeline(ctx, 0, models.Period1h, 5); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero tag id: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetTagTimeline(ctx, tag.ID, models.PeriodType(""), 5); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("empty period: expected ErrInvalidPeriod, got %v", err)
	}
}

func TestCreateSnapshotsForAllTags(t *testing.T) {
	svc := newTrendService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bitcoin := mustTag(t, svc.DB, "Bitcoin", models.TagTypeEntity)
	etf := mustTag(t, svc.DB, "ETF", models.TagTypeTopic)
	stale := mustTag(t, svc.DB, "Stale", models.TagTypeEntity)
	mustMention(t, svc.DB, bitcoin.ID, now.Add(-5*time.Minute), 0.3)
	mustMention(t, svc.DB, etf.ID, now.Add(-5*time.Minute), -0.3)
	mustMention(t, svc.DB, stale.ID, now.Add(-48*time.Hour), 0.0)

	created, err := svc.CreateSnapshotsForAllTags(ctx, models.Period1h)
	if err != nil {
		t.Fatalf("CreateSnapshotsForAllTags: %v", err)
	}
	if created != 2 {
		t.Errorf("expected 2 snapshots, got %d", created)
	}

	var count int64
	svc.DB.Model(&models.TrendSnapshot{}).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 persisted rows, got %d", count)
	}
}
