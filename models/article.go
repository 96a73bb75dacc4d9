package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Article repräsentiert die Metadaten eines Artikels aus der Ingestion-Pipeline.
// Die Pipeline liefert die ID mit; fehlt sie, wird eine UUID vergeben.
type Article struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title       string    `json:"title"`
	SourceID    string    `json:"source_id" gorm:"index"`
	PublishedAt time.Time `json:"published_at" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// TableName gibt explizit den Tabellennamen an.
func (Article) TableName() string {
	return "articles"
}
