package models

import "time"

// RelationType beschreibt die Art einer Kante zwischen zwei Tags.
type RelationType string

const (
	RelationCausal      RelationType = "causal"
	RelationTemporal    RelationType = "temporal"
	RelationMention     RelationType = "mention"
	RelationPartnership RelationType = "partnership"
	RelationCompetitive RelationType = "competitive"
)

// TagRelation repräsentiert eine Kante im Co-Occurrence-Graphen. Pro
// ungeordnetem Paar existiert höchstens eine Zeile; vor dem Anlegen werden
// beide Speicher-Richtungen geprüft. Strength liegt in [0, 1] und wird
// periodisch aus co_occurrence_count neu abgeleitet.
type TagRelation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`

	SourceTagID uint `json:"source_tag_id" gorm:"index:idx_relations_pair,unique;index;not null"`
	TargetTagID uint `json:"target_tag_id" gorm:"index:idx_relations_pair,unique;index;not null"`

	Type              RelationType `json:"type" gorm:"size:32;default:mention"`
	Strength          float64      `json:"strength" gorm:"default:0.1;index"`
	CoOccurrenceCount int          `json:"co_occurrence_count" gorm:"default:1"`

	SourceTag *Tag `json:"source_tag,omitempty" gorm:"foreignKey:SourceTagID"`
	TargetTag *Tag `json:"target_tag,omitempty" gorm:"foreignKey:TargetTagID"`
}

// TableName gibt explizit den Tabellennamen an.
func (TagRelation) TableName() string {
	return "tag_relations"
}

// OtherEnd liefert den Nachbarn von tagID auf dieser Kante.
func (r *TagRelation) OtherEnd(tagID uint) uint {
	if r.SourceTagID == tagID {
		return r.TargetTagID
	}
	return r.SourceTagID
}
