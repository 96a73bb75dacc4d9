package models

import "time"

// Sentiment-Kategorien für eine einzelne Erwähnung.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// TagMention verbindet einen Tag mit einem Artikel. Pro (tag_id, article_id)
// existiert höchstens eine Zeile; ein erneuter Import desselben Artikels
// erzeugt keine Duplikate. Mentions sind unveränderlich, alle Fenster-Abfragen
// (Trends, Anomalien, Graph zum Zeitpunkt T) laufen über created_at.
type TagMention struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_mentions_tag_created,priority:2"`

	TagID     uint   `json:"tag_id" gorm:"index:idx_mentions_tag_article,unique;index:idx_mentions_tag_created,priority:1;not null"`
	ArticleID string `json:"article_id" gorm:"type:uuid;index:idx_mentions_tag_article,unique;index;not null"`

	// Sentiment: Kategorie plus Score in [-1, 1].
	Sentiment      string  `json:"sentiment" gorm:"size:16;default:neutral"`
	SentimentScore float64 `json:"sentiment_score" gorm:"default:0"`

	// Relevanz des Tags für den Artikel in [0, 1].
	Relevance float64 `json:"relevance" gorm:"default:0.5"`

	// Textauszug rund um die Erwähnung.
	Context string `json:"context,omitempty" gorm:"type:text"`

	// ID des Analyse-Laufs, der die Erwähnung erzeugt hat.
	AnalysisID string `json:"analysis_id,omitempty" gorm:"size:64;index"`

	// Nur für Event-Tags: wann das Ereignis stattfindet und wie gravierend
	// es ist, als Schweregrad in [0, 1].
	EventDate *time.Time `json:"event_date,omitempty"`
	Severity  float64    `json:"severity,omitempty" gorm:"default:0"`

	Tag     *Tag     `json:"tag,omitempty" gorm:"foreignKey:TagID"`
	Article *Article `json:"article,omitempty" gorm:"foreignKey:ArticleID"`
}

// TableName gibt explizit den Tabellennamen an.
func (TagMention) TableName() string {
	return "tag_mentions"
}
