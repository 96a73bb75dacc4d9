package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"news-pulse/config"
	"news-pulse/models"
	"news-pulse/notify"
)

// scanLookbackDays bestimmt, welche Tags ein Full-Scan überhaupt anfasst.
const scanLookbackDays = 7

// alertDedupWindow: pro (tag_id, alert_type) entsteht innerhalb dieses
// rollierenden Fensters höchstens ein Alert.
const alertDedupWindow = time.Hour

// errDuplicateAlert signalisiert transaktionsintern einen Dedup-Treffer.
var errDuplicateAlert = errors.New("duplicate alert in dedup window")

// DetectorConfig sind die Schwellwerte eines einzelnen Erkennungslaufs.
// Der Wert wird pro Aufruf übergeben und nie geteilt mutiert; parallele
// Scans mit unterschiedlichen Configs sind damit gefahrlos.
type DetectorConfig struct {
	SpikeThreshold          float64
	SentimentShiftThreshold float64
	MinMentionsForAnalysis  int
	BaselinePeriodHours     int
	ComparisonPeriodHours   int
	NewEntityHoursBack      int
}

// ScanResult sind die Zähler eines Full-Scans. AlertsCreated kann wegen
// des Dedup-Fensters kleiner als AnomaliesDetected sein.
type ScanResult struct {
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	TagsScanned       int       `json:"tags_scanned"`
	AnomaliesDetected int       `json:"anomalies_detected"`
	AlertsCreated     int       `json:"alerts_created"`
	Failures          int       `json:"failures"`
}

// AlertFilters schränkt GetActiveAlerts ein; Nullwerte filtern nicht.
type AlertFilters struct {
	Severity  models.AlertSeverity
	AlertType models.AlertType
	TagID     uint
	Limit     int
}

// AlertStats fasst den Alert-Bestand zusammen.
type AlertStats struct {
	Total        int64            `json:"total"`
	Active       int64            `json:"active"`
	Acknowledged int64            `json:"acknowledged"`
	Last24h      int64            `json:"last_24h"`
	BySeverity   map[string]int64 `json:"by_severity"`
	ByType       map[string]int64 `json:"by_type"`
}

// AnomalyService vergleicht aktuelle Fenster gegen Baselines, legt
// deduplizierte Alerts an und reicht sie an die Notification-Grenze weiter.
type AnomalyService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Notifier *notify.Manager

	// serialisiert check-then-insert der Alert-Erzeugung im Prozess
	alertMu sync.Mutex
}

// NewAnomalyService erstellt eine neue Instanz des AnomalyService.
// notifier darf nil sein; dann werden Events verworfen.
func NewAnomalyService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, notifier *notify.Manager) *AnomalyService {
	return &AnomalyService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Notifier: notifier,
	}
}

// DefaultDetectorConfig leitet die Schwellwerte aus der Umgebung ab.
func (s *AnomalyService) DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SpikeThreshold:          s.Config.SpikeThreshold,
		SentimentShiftThreshold: s.Config.SentimentShiftThreshold,
		MinMentionsForAnalysis:  s.Config.MinMentionsForAnalysis,
		BaselinePeriodHours:     s.Config.BaselinePeriodHours,
		ComparisonPeriodHours:   s.Config.ComparisonPeriodHours,
		NewEntityHoursBack:      s.Config.NewEntityHoursBack,
	}
}

// validate prüft eine DetectorConfig vor dem ersten Store-Zugriff.
func (c DetectorConfig) validate() error {
	if c.BaselinePeriodHours <= c.ComparisonPeriodHours {
		return fmt.Errorf("%w: baseline period must exceed comparison period", ErrInvalidInput)
	}
	if c.ComparisonPeriodHours < 1 || c.MinMentionsForAnalysis < 1 || c.NewEntityHoursBack < 1 {
		return fmt.Errorf("%w: detector periods and minimums must be >= 1", ErrInvalidInput)
	}
	if c.SpikeThreshold <= 0 || c.SentimentShiftThreshold <= 0 {
		return fmt.Errorf("%w: detector thresholds must be > 0", ErrInvalidInput)
	}
	return nil
}

// baselineStats ist die statistische Referenz eines Tags über das
// Baseline-Fenster [now-baseline, now-comparison): Mittel und
// Standardabweichung der stündlichen Mention-Zahlen plus Sentiment-Mittel.
// Das Vergleichsfenster ist ausgenommen, damit es die eigene Baseline
// nicht verfälscht.
type baselineStats struct {
	MeanHourly   float64
	StddevHourly float64
	AvgSentiment float64
	MentionCount int
}

func (s *AnomalyService) baseline(ctx context.Context, tagID uint, cfg DetectorConfig, now time.Time) (*baselineStats, error) {
	from := now.Add(-time.Duration(cfg.BaselinePeriodHours) * time.Hour)
	to := now.Add(-time.Duration(cfg.ComparisonPeriodHours) * time.Hour)
	hours := cfg.BaselinePeriodHours - cfg.ComparisonPeriodHours

	var rows []struct {
		CreatedAt      time.Time
		SentimentScore float64
	}
	err := s.DB.WithContext(ctx).Model(&models.TagMention{}).
		Select("created_at, sentiment_score").
		Where("tag_id = ? AND created_at >= ? AND created_at < ?", tagID, from, to).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load baseline mentions: %w", err)
	}

	stats := &baselineStats{MentionCount: len(rows)}
	if len(rows) == 0 {
		return stats, nil
	}

	// stündliche Buckets; leere Stunden zählen als 0
	buckets := make([]int, hours)
	sentimentSum := 0.0
	for _, r := range rows {
		idx := int(r.CreatedAt.Sub(from).Hours())
		if idx < 0 {
			idx = 0
		}
		if idx >= hours {
			idx = hours - 1
		}
		buckets[idx]++
		sentimentSum += r.SentimentScore
	}

	stats.MeanHourly = float64(len(rows)) / float64(hours)
	variance := 0.0
	for _, c := range buckets {
		d := float64(c) - stats.MeanHourly
		variance += d * d
	}
	variance /= float64(hours)
	stats.StddevHourly = math.Sqrt(variance)
	stats.AvgSentiment = sentimentSum / float64(len(rows))
	return stats, nil
}

// CheckForSpike prüft einen Tag auf einen Mention-Spike im Vergleichsfenster.
// Unter MinMentionsForAnalysis passiert nichts. Ein Tag ganz ohne Baseline
// ("cold start") ergibt immer einen Medium-Alert mit 100 % Änderung; sonst
// muss die Abweichung den Schwellwert erreichen. Der Kandidat wird NICHT
// persistiert, das übernimmt CreateAlert.
func (s *AnomalyService) CheckForSpike(ctx context.Context, tagID uint, cfg DetectorConfig) (*models.TrendAlert, error) {
	if err := cfg.validate(); err != nil {
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
	comparisonStart := now.Add(-time.Duration(cfg.ComparisonPeriodHours) * time.Hour)

	var current int64
	err := db.Model(&models.TagMention{}).
		Where("tag_id = ? AND created_at >= ?", tagID, comparisonStart).
		Count(&current).Error
	if err != nil {
		return nil, fmt.Errorf("count comparison window: %w", err)
	}
	if int(current) < cfg.MinMentionsForAnalysis {
		return nil, nil
	}

	base, err := s.baseline(ctx, tagID, cfg, now)
	if err != nil {
		return nil, err
	}
	expected := base.MeanHourly * float64(cfg.ComparisonPeriodHours)

	// Cold start: keinerlei Baseline-Aktivität
	if base.MentionCount == 0 {
		alert := &models.TrendAlert{
			TagID:     tagID,
			AlertType: models.AlertSpike,
			Severity:  models.SeverityMedium,
			Title:     fmt.Sprintf("Mention spike: %s", tag.Name),
			Description: fmt.Sprintf("%q has %d mentions in the last %dh with no prior baseline activity",
				tag.Name, current, cfg.ComparisonPeriodHours),
		}
		if err := alert.SetMetrics(models.AlertMetrics{
			PreviousValue: 0,
			CurrentValue:  float64(current),
			ChangePercent: 100,
			Threshold:     cfg.SpikeThreshold,
		}); err != nil {
			return nil, err
		}
		if err := s.attachRelatedArticles(ctx, alert, tagID, comparisonStart); err != nil {
			return nil, err
		}
		return alert, nil
	}

	var deviation float64
	if base.StddevHourly > 0 {
		deviation = (float64(current) - expected) / base.StddevHourly
	} else {
		deviation = float64(current) / math.Max(expected, 1)
	}
	if deviation < cfg.SpikeThreshold {
		return nil, nil
	}

	changePercent := 100.0
	if expected > 0 {
		changePercent = (float64(current) - expected) / expected * 100
	}

	alert := &models.TrendAlert{
		TagID:     tagID,
		AlertType: models.AlertSpike,
		Severity:  spikeSeverity(deviation),
		Title:     fmt.Sprintf("Mention spike: %s", tag.Name),
		Description: fmt.Sprintf("%q has %d mentions in the last %dh, expected %.1f (deviation %.1f σ)",
			tag.Name, current, cfg.ComparisonPeriodHours, expected, deviation),
	}
	if err := alert.SetMetrics(models.AlertMetrics{
		PreviousValue: expected,
		CurrentValue:  float64(current),
		ChangePercent: changePercent,
		Threshold:     cfg.SpikeThreshold,
	}); err != nil {
		return nil, err
	}
	if err := s.attachRelatedArticles(ctx, alert, tagID, comparisonStart); err != nil {
		return nil, err
	}
	return alert, nil
}

// spikeSeverity stuft die Abweichung ein; es zählt die höchste passende
// Stufe.
func spikeSeverity(deviation float64) models.AlertSeverity {
	switch {
	case deviation >= 5:
		return models.SeverityCritical
	case deviation >= 3:
		return models.SeverityHigh
	case deviation >= 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// CheckForSentimentShift prüft, ob das Sentiment des Vergleichsfensters um
// mindestens den Schwellwert von der Baseline abweicht. Ohne Baseline-
// Mentions gibt es keine Anomalie (zu junger Tag ist kein Fehler).
func (s *AnomalyService) CheckForSentimentShift(ctx context.Context, tagID uint, cfg DetectorConfig) (*models.TrendAlert, error) {
	if err := cfg.validate(); err != nil {
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
	comparisonStart := now.Add(-time.Duration(cfg.ComparisonPeriodHours) * time.Hour)

	var cur struct {
		Cnt      int
		AvgScore float64
	}
	err := db.Model(&models.TagMention{}).
		Select("COUNT(*) AS cnt, COALESCE(AVG(sentiment_score), 0) AS avg_score").
		Where("tag_id = ? AND created_at >= ?", tagID, comparisonStart).
		Scan(&cur).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate comparison sentiment: %w", err)
	}
	if cur.Cnt < cfg.MinMentionsForAnalysis {
		return nil, nil
	}

	base, err := s.baseline(ctx, tagID, cfg, now)
	if err != nil {
		return nil, err
	}
	if base.MentionCount == 0 {
		return nil, nil
	}

	delta := cur.AvgScore - base.AvgSentiment
	if math.Abs(delta) < cfg.SentimentShiftThreshold {
		return nil, nil
	}

	direction := "positive"
	if delta < 0 {
		direction = "negative"
	}

	alert := &models.TrendAlert{
		TagID:     tagID,
		AlertType: models.AlertSentimentShift,
		Severity:  shiftSeverity(math.Abs(delta)),
		Title:     fmt.Sprintf("Sentiment shift: %s", tag.Name),
		Description: fmt.Sprintf("Sentiment for %q shifted %s by %.2f (%.2f -> %.2f)",
			tag.Name, direction, math.Abs(delta), base.AvgSentiment, cur.AvgScore),
	}
	if err := alert.SetMetrics(models.AlertMetrics{
		PreviousValue: base.AvgSentiment,
		CurrentValue:  cur.AvgScore,
		ChangePercent: delta * 100,
		Threshold:     cfg.SentimentShiftThreshold,
	}); err != nil {
		return nil, err
	}
	if err := s.attachRelatedArticles(ctx, alert, tagID, comparisonStart); err != nil {
		return nil, err
	}
	return alert, nil
}

func shiftSeverity(absDelta float64) models.AlertSeverity {
	switch {
	case absDelta >= 0.7:
		return models.SeverityCritical
	case absDelta >= 0.5:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// CheckForNewEntities findet frisch angelegte Tags mit auffällig vielen
// Mentions: erstellt innerhalb von NewEntityHoursBack, mindestens
// MinMentionsForAnalysis Mentions, höchstens die zehn stärksten.
func (s *AnomalyService) CheckForNewEntities(ctx context.Context, cfg DetectorConfig) ([]*models.TrendAlert, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-time.Duration(cfg.NewEntityHoursBack) * time.Hour)
	var tags []models.Tag
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND total_mentions >= ?", cutoff, cfg.MinMentionsForAnalysis).
		Order("total_mentions DESC, id ASC").
		Limit(10).
		Find(&tags).Error
	if err != nil {
		return nil, fmt.Errorf("load new entities: %w", err)
	}

	alerts := make([]*models.TrendAlert, 0, len(tags))
	for _, tag := range tags {
		alert := &models.TrendAlert{
			TagID:     tag.ID,
			AlertType: models.AlertNewEntity,
			Severity:  newEntitySeverity(tag.TotalMentions),
			Title:     fmt.Sprintf("New entity: %s", tag.Name),
			Description: fmt.Sprintf("%q (%s) appeared within the last %dh and already has %d mentions",
				tag.Name, tag.Type, cfg.NewEntityHoursBack, tag.TotalMentions),
		}
		if err := alert.SetMetrics(models.AlertMetrics{
			PreviousValue: 0,
			CurrentValue:  float64(tag.TotalMentions),
			ChangePercent: 100,
			Threshold:     float64(cfg.MinMentionsForAnalysis),
		}); err != nil {
			return nil, err
		}
		if err := s.attachRelatedArticles(ctx, alert, tag.ID, cutoff); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func newEntitySeverity(mentions int) models.AlertSeverity {
	switch {
	case mentions >= 10:
		return models.SeverityHigh
	case mentions >= 5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// attachRelatedArticles hängt bis zu fünf Artikel-IDs aus dem Zeitraum an
// den Alert.
func (s *AnomalyService) attachRelatedArticles(ctx context.Context, alert *models.TrendAlert, tagID uint, since time.Time) error {
	var articleIDs []string
	err := s.DB.WithContext(ctx).Model(&models.TagMention{}).
		Where("tag_id = ? AND created_at >= ?", tagID, since).
		Order("created_at DESC").
		Limit(5).
		Pluck("article_id", &articleIDs).Error
	if err != nil {
		return fmt.Errorf("load related articles: %w", err)
	}
	if len(articleIDs) == 0 {
		return nil
	}
	b, err := json.Marshal(articleIDs)
	if err != nil {
		return err
	}
	alert.RelatedArticles = b
	return nil
}

// CreateAlert persistiert einen Alert-Kandidaten, sofern für
// (tag_id, alert_type) im letzten rollierenden Stundenfenster noch keiner
// existiert. Lookup und Insert laufen in einer Transaktion; im Prozess
// serialisiert ein Mutex, auf Postgres zusätzlich ein transaktionsgebundener
// Advisory Lock pro (tag_id, alert_type), damit auch parallel laufende
// Replikas keine Duplikat-Fluten erzeugen. Rückgabe false bedeutet
// Dedup-Treffer, kein Fehler. Jede erfolgreiche Erzeugung schickt ein Event
// an die Notification-Grenze (at-least-once, Zustellfehler werden nur
// geloggt).
func (s *AnomalyService) CreateAlert(ctx context.Context, alert *models.TrendAlert) (bool, error) {
	if alert == nil || alert.TagID == 0 || alert.AlertType == "" {
		return false, fmt.Errorf("%w: alert needs tag and type", ErrInvalidInput)
	}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	dedupAfter := time.Now().UTC().Add(-alertDedupWindow)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SQLite (Tests) kennt keine Advisory Locks; dort trägt das Mutex allein.
		if tx.Dialector.Name() == "postgres" {
			key := alertLockKey(alert.TagID, alert.AlertType)
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
				return fmt.Errorf("acquire alert lock: %w", err)
			}
		}

		var existing models.TrendAlert
		lookupErr := tx.Where("tag_id = ? AND alert_type = ? AND created_at > ?",
			alert.TagID, alert.AlertType, dedupAfter).
			First(&existing).Error
		if lookupErr == nil {
			return errDuplicateAlert
		}
		if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}
		return tx.Create(alert).Error
	})
	if errors.Is(err, errDuplicateAlert) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}

	s.Logger.Info("Alert angelegt",
		zap.Uint("tag_id", alert.TagID),
		zap.String("type", string(alert.AlertType)),
		zap.String("severity", string(alert.Severity)))

	s.emitAlertEvent(ctx, alert)
	return true, nil
}

// alertLockKey bildet (tag_id, alert_type) deterministisch auf einen
// 64-Bit-Schlüssel für pg_advisory_xact_lock ab.
func alertLockKey(tagID uint, alertType models.AlertType) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "trend_alert:%d:%s", tagID, alertType)
	return int64(h.Sum64())
}

// emitAlertEvent reicht den Alert an die Notification-Grenze weiter.
// Zustellfehler loggt der Manager selbst; hier wird nie erneut versucht.
func (s *AnomalyService) emitAlertEvent(ctx context.Context, alert *models.TrendAlert) {
	if !s.Notifier.HasNotifiers() {
		return
	}
	metrics, err := alert.GetMetrics()
	if err != nil {
		s.Logger.Warn("Alert-Metriken nicht lesbar", zap.Uint("alert_id", alert.ID), zap.Error(err))
	}
	event := &notify.AlertEvent{
		TagID:       alert.TagID,
		AlertType:   alert.AlertType,
		Severity:    alert.Severity,
		Title:       alert.Title,
		Description: alert.Description,
		Metrics:     metrics,
		CreatedAt:   alert.CreatedAt,
	}
	var tag models.Tag
	if lookupErr := s.DB.WithContext(ctx).First(&tag, alert.TagID).Error; lookupErr == nil {
		event.TagName = tag.Name
	}
	_ = s.Notifier.Broadcast(ctx, event)
}

// RunFullScan prüft jeden in den letzten sieben Tagen gesehenen Tag auf
// Spikes und Sentiment-Shifts und sucht einmal global nach neuen Entitäten.
// Einzelfehler werden gezählt und geloggt, brechen den Lauf aber nie ab.
func (s *AnomalyService) RunFullScan(ctx context.Context, cfg DetectorConfig) (*ScanResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	result := &ScanResult{StartedAt: time.Now().UTC()}
	log := s.Logger.With(zap.Time("scan_started_at", result.StartedAt))
	log.Info("Starte Anomalie-Scan")

	cutoff := result.StartedAt.AddDate(0, 0, -scanLookbackDays)
	var tagIDs []uint
	err := s.DB.WithContext(ctx).Model(&models.Tag{}).
		Where("last_seen_at >= ?", cutoff).
		Order("id ASC").
		Pluck("id", &tagIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list recently seen tags: %w", err)
	}

	for _, tagID := range tagIDs {
		if ctx.Err() != nil {
			result.FinishedAt = time.Now().UTC()
			return result, ctx.Err()
		}
		result.TagsScanned++

		for _, check := range []func(context.Context, uint, DetectorConfig) (*models.TrendAlert, error){
			s.CheckForSpike,
			s.CheckForSentimentShift,
		} {
			candidate, err := check(ctx, tagID, cfg)
			if err != nil {
				result.Failures++
				log.Error("Anomalie-Check fehlgeschlagen", zap.Uint("tag_id", tagID), zap.Error(err))
				continue
			}
			if candidate == nil {
				continue
			}
			result.AnomaliesDetected++
			created, err := s.CreateAlert(ctx, candidate)
			if err != nil {
				result.Failures++
				log.Error("Alert konnte nicht angelegt werden", zap.Uint("tag_id", tagID), zap.Error(err))
				continue
			}
			if created {
				result.AlertsCreated++
			}
		}
	}

	// Neue Entitäten einmal global
	candidates, err := s.CheckForNewEntities(ctx, cfg)
	if err != nil {
		result.Failures++
		log.Error("New-Entity-Check fehlgeschlagen", zap.Error(err))
	} else {
		for _, candidate := range candidates {
			result.AnomaliesDetected++
			created, err := s.CreateAlert(ctx, candidate)
			if err != nil {
				result.Failures++
				log.Error("Alert konnte nicht angelegt werden", zap.Uint("tag_id", candidate.TagID), zap.Error(err))
				continue
			}
			if created {
				result.AlertsCreated++
			}
		}
	}

	result.FinishedAt = time.Now().UTC()
	log.Info("Anomalie-Scan abgeschlossen",
		zap.Int("tags_scanned", result.TagsScanned),
		zap.Int("anomalies", result.AnomaliesDetected),
		zap.Int("alerts_created", result.AlertsCreated),
		zap.Int("failures", result.Failures),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

// AcknowledgeAlert markiert einen Alert als bearbeitet.
func (s *AnomalyService) AcknowledgeAlert(ctx context.Context, alertID uint, userID string) (*models.TrendAlert, error) {
	if alertID == 0 || userID == "" {
		return nil, fmt.Errorf("%w: alert id and user required", ErrInvalidInput)
	}

	db := s.DB.WithContext(ctx)
	var alert models.TrendAlert
	if err := db.First(&alert, alertID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err := db.Model(&alert).Updates(map[string]interface{}{
		"acknowledged":    true,
		"acknowledged_by": userID,
		"acknowledged_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert %d: %w", alertID, err)
	}
	alert.Acknowledged = true
	alert.AcknowledgedBy = userID
	alert.AcknowledgedAt = &now
	return &alert, nil
}

// GetActiveAlerts liefert unbestätigte Alerts, neueste zuerst.
func (s *AnomalyService) GetActiveAlerts(ctx context.Context, filters AlertFilters) ([]models.TrendAlert, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	q := s.DB.WithContext(ctx).Where("acknowledged = ?", false)
	if filters.Severity != "" {
		q = q.Where("severity = ?", filters.Severity)
	}
	if filters.AlertType != "" {
		q = q.Where("alert_type = ?", filters.AlertType)
	}
	if filters.TagID != 0 {
		q = q.Where("tag_id = ?", filters.TagID)
	}

	var alerts []models.TrendAlert
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	return alerts, nil
}

// GetAlertStats zählt den Alert-Bestand nach Status, Schwere und Typ.
func (s *AnomalyService) GetAlertStats(ctx context.Context) (*AlertStats, error) {
	db := s.DB.WithContext(ctx)
	stats := &AlertStats{
		BySeverity: map[string]int64{},
		ByType:     map[string]int64{},
	}

	if err := db.Model(&models.TrendAlert{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	if err := db.Model(&models.TrendAlert{}).Where("acknowledged = ?", false).Count(&stats.Active).Error; err != nil {
		return nil, fmt.Errorf("count active alerts: %w", err)
	}
	stats.Acknowledged = stats.Total - stats.Active

	if err := db.Model(&models.TrendAlert{}).
		Where("created_at >= ?", time.Now().UTC().Add(-24*time.Hour)).
		Count(&stats.Last24h).Error; err != nil {
		return nil, fmt.Errorf("count recent alerts: %w", err)
	}

	var severityRows []struct {
		Severity string
		Cnt      int64
	}
	err := db.Model(&models.TrendAlert{}).
		Select("severity, COUNT(*) AS cnt").
		Group("severity").
		Scan(&severityRows).Error
	if err != nil {
		return nil, fmt.Errorf("group alerts by severity: %w", err)
	}
	for _, r := range severityRows {
		stats.BySeverity[r.Severity] = r.Cnt
	}

	var typeRows []struct {
		AlertType string
		Cnt       int64
	}
	err = db.Model(&models.TrendAlert{}).
		Select("alert_type, COUNT(*) AS cnt").
		Group("alert_type").
		Scan(&typeRows).Error
	if err != nil {
		return nil, fmt.Errorf("group alerts by type: %w", err)
	}
	for _, r := range typeRows {
		stats.ByType[r.AlertType] = r.Cnt
	}

	return stats, nil
}
