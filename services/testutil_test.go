package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"news-pulse/config"
	"news-pulse/models"
)

// openTestDB öffnet eine frische sqlite-Datenbank mit migriertem Schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	err = db.AutoMigrate(&models.Article{}, &models.Tag{}, &models.TagMention{},
		&models.TagRelation{}, &models.TrendSnapshot{}, &models.TrendAlert{})
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		SpikeThreshold:          3.0,
		SentimentShiftThreshold: 0.4,
		MinMentionsForAnalysis:  3,
		BaselinePeriodHours:     168,
		ComparisonPeriodHours:   1,
		NewEntityHoursBack:      24,
		MaxTraversalEdges:       50000,
	}
}

// mustTag legt einen Tag direkt im Store an.
func mustTag(t *testing.T, db *gorm.DB, name string, tagType models.TagType) *models.Tag {
	t.Helper()
	tag := &models.Tag{
		Name:           name,
		NormalizedName: NormalizeTagName(name),
		Type:           tagType,
		LastSeenAt:     time.Now().UTC(),
	}
	if err := db.Create(tag).Error; err != nil {
		t.Fatalf("failed to create tag %q: %v", name, err)
	}
	return tag
}

// mustRelation legt eine Kante mit fester Stärke an.
func mustRelation(t *testing.T, db *gorm.DB, source, target uint, strength float64, count int) *models.TagRelation {
	t.Helper()
	rel := &models.TagRelation{
		SourceTagID:       source,
		TargetTagID:       target,
		Type:              models.RelationMention,
		Strength:          strength,
		CoOccurrenceCount: count,
	}
	if err := db.Create(rel).Error; err != nil {
		t.Fatalf("failed to create relation %d-%d: %v", source, target, err)
	}
	return rel
}

// mustMentionFrom legt einen Artikel der angegebenen Quelle samt Mention
// zum gegebenen Zeitpunkt an.
func mustMentionFrom(t *testing.T, db *gorm.DB, tagID uint, source string, createdAt time.Time, score float64) *models.TagMention {
	t.Helper()
	article := &models.Article{
		Title:       "Testartikel",
		SourceID:    source,
		PublishedAt: createdAt,
		CreatedAt:   createdAt,
	}
	if err := db.Create(article).Error; err != nil {
		t.Fatalf("failed to create article: %v", err)
	}
	mention := &models.TagMention{
		TagID:          tagID,
		ArticleID:      article.ID,
		CreatedAt:      createdAt,
		Sentiment:      models.SentimentNeutral,
		SentimentScore: score,
		Relevance:      0.5,
	}
	if err := db.Create(mention).Error; err != nil {
		t.Fatalf("failed to create mention: %v", err)
	}
	return mention
}

// mustMention wie mustMentionFrom mit fester Quelle.
func mustMention(t *testing.T, db *gorm.DB, tagID uint, createdAt time.Time, score float64) *models.TagMention {
	t.Helper()
	return mustMentionFrom(t, db, tagID, "source-1", createdAt, score)
}

// refreshTagStats hält die abgeleiteten Tag-Werte mit den Fixtures synchron.
func refreshTagStats(t *testing.T, svc *ExtractService, tagIDs ...uint) {
	t.Helper()
	for _, id := range tagIDs {
		if err := svc.RecomputeTagStats(context.Background(), id); err != nil {
			t.Fatalf("failed to recompute stats for tag %d: %v", id, err)
		}
	}
}
