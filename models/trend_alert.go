package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AlertType bezeichnet die Art einer erkannten Anomalie.
type AlertType string

const (
	AlertSpike          AlertType = "spike"
	AlertSentimentShift AlertType = "sentiment_shift"
	AlertNewEntity      AlertType = "new_entity"
	AlertAnomaly        AlertType = "anomaly"
	AlertVolumeDrop     AlertType = "volume_drop"
)

// AlertSeverity stuft einen Alert ein.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertMetrics sind die Messwerte, die zu einem Alert geführt haben.
type AlertMetrics struct {
	PreviousValue float64 `json:"previous_value"`
	CurrentValue  float64 `json:"current_value"`
	ChangePercent float64 `json:"change_percent"`
	Threshold     float64 `json:"threshold"`
}

// TrendAlert repräsentiert eine persistierte Anomalie. Pro (tag_id, alert_type)
// entsteht innerhalb einer rollierenden Stunde höchstens ein Alert; der
// Dedup-Check läuft über created_at.
type TrendAlert struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_alerts_dedup,priority:3;index"`

	TagID     uint          `json:"tag_id" gorm:"index:idx_alerts_dedup,priority:1;index;not null"`
	AlertType AlertType     `json:"alert_type" gorm:"size:32;index:idx_alerts_dedup,priority:2;not null"`
	Severity  AlertSeverity `json:"severity" gorm:"size:16;index"`

	Title       string `json:"title"`
	Description string `json:"description" gorm:"type:text"`

	Metrics         datatypes.JSON `json:"metrics,omitempty" gorm:"type:jsonb"`
	RelatedArticles datatypes.JSON `json:"related_articles,omitempty" gorm:"type:jsonb"`

	Acknowledged   bool       `json:"acknowledged" gorm:"default:false;index"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty" gorm:"size:128"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	Tag *Tag `json:"tag,omitempty" gorm:"foreignKey:TagID"`
}

// TableName gibt explizit den Tabellennamen an.
func (TrendAlert) TableName() string {
	return "trend_alerts"
}

// SetMetrics serialisiert die Messwerte in das JSON-Feld.
func (a *TrendAlert) SetMetrics(m AlertMetrics) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	a.Metrics = b
	return nil
}

// GetMetrics decodiert die gespeicherten Messwerte.
func (a *TrendAlert) GetMetrics() (AlertMetrics, error) {
	var m AlertMetrics
	if len(a.Metrics) == 0 {
		return m, nil
	}
	err := json.Unmarshal(a.Metrics, &m)
	return m, err
}
