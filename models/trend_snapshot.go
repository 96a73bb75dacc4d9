package models

import (
	"time"

	"gorm.io/datatypes"
)

// PeriodType bezeichnet die Fensterlänge eines Snapshots.
type PeriodType string

const (
	Period1h  PeriodType = "1h"
	Period24h PeriodType = "24h"
	Period7d  PeriodType = "7d"
)

// PeriodDuration liefert die Fensterlänge als Duration.
func (p PeriodType) Duration() (time.Duration, bool) {
	switch p {
	case Period1h:
		return time.Hour, true
	case Period24h:
		return 24 * time.Hour, true
	case Period7d:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

// TrendSnapshot hält die aggregierten Kennzahlen eines Tags für ein
// Zeitfenster fest. (tag_id, period_type, period_start) ist eindeutig:
// ein erneuter Lauf im selben Fenster aktualisiert die bestehende Zeile.
type TrendSnapshot struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TagID       uint       `json:"tag_id" gorm:"index:idx_snapshots_tag_period,unique;index;not null"`
	PeriodType  PeriodType `json:"period_type" gorm:"size:8;index:idx_snapshots_tag_period,unique;not null"`
	PeriodStart time.Time  `json:"period_start" gorm:"index:idx_snapshots_tag_period,unique;index;not null"`
	PeriodEnd   time.Time  `json:"period_end"`

	MentionCount   int     `json:"mention_count" gorm:"default:0"`
	UniqueArticles int     `json:"unique_articles" gorm:"default:0"`
	UniqueSources  int     `json:"unique_sources" gorm:"default:0"`
	AvgSentiment   float64 `json:"avg_sentiment" gorm:"default:0"`
	AvgRelevance   float64 `json:"avg_relevance" gorm:"default:0"`

	// Prozentuale Veränderung gegenüber dem Vorfenster; nil wenn kein
	// Vergleichswert existiert (weder aktuelle noch vorherige Mentions).
	VelocityChange     *float64 `json:"velocity_change,omitempty"`
	AccelerationChange *float64 `json:"acceleration_change,omitempty"`

	RelatedTags           datatypes.JSON `json:"related_tags,omitempty" gorm:"type:jsonb"`
	TopArticles           datatypes.JSON `json:"top_articles,omitempty" gorm:"type:jsonb"`
	SentimentDistribution datatypes.JSON `json:"sentiment_distribution,omitempty" gorm:"type:jsonb"`

	Tag *Tag `json:"tag,omitempty" gorm:"foreignKey:TagID"`
}

// TableName gibt explizit den Tabellennamen an.
func (TrendSnapshot) TableName() string {
	return "trend_snapshots"
}
