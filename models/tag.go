package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// TagType klassifiziert einen Tag.
type TagType string

const (
	TagTypeEntity TagType = "entity"
	TagTypeTopic  TagType = "topic"
	TagTypeEvent  TagType = "event"
	TagTypeRegion TagType = "region"
)

// Tag repräsentiert ein kanonisches Konzept (Entität, Thema, Ereignis oder Region)
// aus den Nachrichten. (normalized_name, type) ist eindeutig: derselbe Name darf
// als entity UND als topic existieren, aber nicht zweimal innerhalb eines Typs.
type Tag struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Name           string  `json:"name" gorm:"not null"`
	NormalizedName string  `json:"normalized_name" gorm:"index:idx_tags_norm_type,unique;size:256;not null"`
	Type           TagType `json:"type" gorm:"index:idx_tags_norm_type,unique;size:32;not null"`
	Subtype        string  `json:"subtype,omitempty" gorm:"size:64;index"`

	// Alternative Schreibweisen; wachsen monoton, werden nie entfernt.
	Aliases datatypes.JSON `json:"aliases,omitempty" gorm:"type:jsonb"`

	// Abgeleitete Werte, werden aus den Mentions neu berechnet, nie direkt gesetzt.
	TotalMentions int       `json:"total_mentions" gorm:"default:0;index"`
	AvgSentiment  float64   `json:"avg_sentiment" gorm:"default:0"`
	LastSeenAt    time.Time `json:"last_seen_at" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Tag) TableName() string {
	return "tags"
}

// AliasList decodiert die gespeicherten Aliase.
func (t *Tag) AliasList() []string {
	if len(t.Aliases) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(t.Aliases, &out); err != nil {
		return nil
	}
	return out
}

// MergeAliases ergänzt neue Aliase und meldet, ob sich etwas geändert hat.
// Bestehende Einträge bleiben erhalten (Aliase wachsen monoton).
func (t *Tag) MergeAliases(incoming []string) bool {
	if len(incoming) == 0 {
		return false
	}
	existing := t.AliasList()
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	changed := false
	for _, a := range incoming {
		if a == "" || seen[a] {
			continue
		}
		existing = append(existing, a)
		seen[a] = true
		changed = true
	}
	if changed {
		b, err := json.Marshal(existing)
		if err != nil {
			return false
		}
		t.Aliases = b
	}
	return changed
}
