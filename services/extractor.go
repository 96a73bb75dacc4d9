package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"news-pulse/config"
	"news-pulse/models"
)

// canonicalAliases bildet bekannte Kurzformen auf den kanonischen Namen ab.
// Der Lookup läuft über die normalisierte Form, damit "BTC", "btc" und
// "B.T.C." dieselbe Zeile treffen. Die Tabelle ist statisch; neue Einträge
// kommen per Code-Änderung dazu.
var canonicalAliases = map[string]string{
	"btc":            "Bitcoin",
	"xbt":            "Bitcoin",
	"eth":            "Ethereum",
	"ether":          "Ethereum",
	"sol":            "Solana",
	"doge":           "Dogecoin",
	"fed":            "Federal Reserve",
	"federalreserve": "Federal Reserve",
	"sec":            "SEC",
	"ecb":            "European Central Bank",
	"ezb":            "European Central Bank",
	"usa":            "United States",
	"us":             "United States",
	"uk":             "United Kingdom",
	"eu":             "European Union",
	"ai":             "Artificial Intelligence",
}

// ArticleInput ist der Artikel-Metadaten-Vertrag der Ingestion-Pipeline.
type ArticleInput struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	SourceID    string    `json:"source_id"`
	PublishedAt time.Time `json:"published_at"`
}

// ExtractedItem ist ein einzelnes extrahiertes Konzept aus dem LLM-Payload.
type ExtractedItem struct {
	Name             string     `json:"name"`
	Subtype          string     `json:"subtype,omitempty"`
	Sentiment        string     `json:"sentiment,omitempty"`
	SentimentScore   float64    `json:"sentiment_score"`
	Relevance        float64    `json:"relevance"`
	Context          string     `json:"context,omitempty"`
	Aliases          []string   `json:"aliases,omitempty"`
	EventDate        *time.Time `json:"event_date,omitempty"`
	Severity         float64    `json:"severity,omitempty"`
	AffectedEntities []string   `json:"affected_entities,omitempty"`
}

// ExtractedPayload ist das getypte Ergebnis des Extraktions-Collaborators.
type ExtractedPayload struct {
	AnalysisID string          `json:"analysis_id,omitempty"`
	Entities   []ExtractedItem `json:"entities"`
	Topics     []ExtractedItem `json:"topics"`
	Events     []ExtractedItem `json:"events"`
	Regions    []ExtractedItem `json:"regions"`
}

// IngestResult fasst zusammen, was ein ProcessArticle-Lauf verändert hat.
type IngestResult struct {
	ArticleID        string `json:"article_id"`
	TagsCreated      int    `json:"tags_created"`
	MentionsCreated  int    `json:"mentions_created"`
	MentionsSkipped  int    `json:"mentions_skipped"`
	RelationsTouched int    `json:"relations_touched"`
}

// ExtractService faltet extrahierte Tag-Payloads in den Tag Store:
// Artikel, Tags, Mentions und Co-Occurrence-Kanten.
type ExtractService struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewExtractService erstellt eine neue Instanz des ExtractService.
func NewExtractService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *ExtractService {
	return &ExtractService{
		Config: cfg,
		DB:     db,
		Logger: logger,
	}
}

// NormalizeTagName reduziert einen Namen auf Kleinbuchstaben und
// alphanumerische Zeichen. Das Ergebnis ist der Dedup-Schlüssel.
func NormalizeTagName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalName löst eine Oberflächenform über die Alias-Tabelle auf.
// Unbekannte Formen kommen unverändert (getrimmt) zurück.
func CanonicalName(surface string) string {
	trimmed := strings.TrimSpace(surface)
	if canonical, ok := canonicalAliases[NormalizeTagName(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// mentionCandidate ist ein aufgelöstes Item samt Ziel-Tag-Typ.
type mentionCandidate struct {
	item    ExtractedItem
	tagType models.TagType
}

// ProcessArticle verarbeitet einen Artikel samt Extraction-Payload.
// Mentions sind idempotent über (tag_id, article_id); erneutes Verarbeiten
// desselben Artikels erzeugt weder doppelte Mentions noch zählt es
// Co-Occurrences doppelt. Kanten-Stärken werden hier NICHT neu berechnet,
// das übernimmt ausschließlich der Bulk-Job UpdateRelationStrengths.
func (s *ExtractService) ProcessArticle(ctx context.Context, article ArticleInput, payload ExtractedPayload) (*IngestResult, error) {
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if article.PublishedAt.IsZero() {
		article.PublishedAt = time.Now().UTC()
	}
	log := s.Logger.With(zap.String("article_id", article.ID))

	db := s.DB.WithContext(ctx)

	// 1. Artikel upserten (erneuter Import aktualisiert die Metadaten)
	row := models.Article{
		ID:          article.ID,
		Title:       article.Title,
		SourceID:    article.SourceID,
		PublishedAt: article.PublishedAt,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "source_id", "published_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert article: %w", err)
	}

	candidates := collectCandidates(payload)

	result := &IngestResult{ArticleID: article.ID}

	// Tags dieses Artikels in Verarbeitungsreihenfolge; freshByTag markiert
	// Tags, deren Mention in diesem Lauf neu eingefügt wurde.
	var tagOrder []uint
	freshByTag := map[uint]bool{}
	tagByID := map[uint]*models.Tag{}

	// 2. Items auflösen: Alias -> kanonischer Name -> Tag -> Mention
	for _, c := range candidates {
		tag, created, err := s.FindOrCreateTag(ctx, c.item.Name, c.tagType, c.item.Subtype, c.item.Aliases)
		if err != nil {
			log.Error("Tag konnte nicht aufgelöst werden",
				zap.String("name", c.item.Name), zap.Error(err))
			continue
		}
		if tag == nil {
			continue // leerer Name nach Normalisierung
		}
		if created {
			result.TagsCreated++
		}

		if _, seen := tagByID[tag.ID]; !seen {
			tagOrder = append(tagOrder, tag.ID)
			tagByID[tag.ID] = tag
		}

		inserted, err := s.insertMention(ctx, tag.ID, article.ID, payload.AnalysisID, c.item)
		if err != nil {
			log.Error("Mention konnte nicht gespeichert werden",
				zap.Uint("tag_id", tag.ID), zap.Error(err))
			continue
		}
		if inserted {
			result.MentionsCreated++
			freshByTag[tag.ID] = true
		} else {
			result.MentionsSkipped++
		}
	}

	// 3. Abgeleitete Tag-Werte aus den Mentions neu berechnen
	for _, tagID := range tagOrder {
		if err := s.RecomputeTagStats(ctx, tagID); err != nil {
			log.Error("Tag-Statistiken konnten nicht aktualisiert werden",
				zap.Uint("tag_id", tagID), zap.Error(err))
		}
	}

	// 4. Co-Occurrence: jedes ungeordnete Paar genau einmal pro Artikel.
	// Nur Paare mit mindestens einer frischen Mention zählen, sonst würde
	// ein Re-Import die Zähler aufblasen.
	for i := 0; i < len(tagOrder); i++ {
		for j := i + 1; j < len(tagOrder); j++ {
			a, b := tagOrder[i], tagOrder[j]
			if !freshByTag[a] && !freshByTag[b] {
				continue
			}
			if err := s.TouchRelation(ctx, a, b, models.RelationMention); err != nil {
				log.Error("Relation konnte nicht aktualisiert werden",
					zap.Uint("source", a), zap.Uint("target", b), zap.Error(err))
				continue
			}
			result.RelationsTouched++
		}
	}

	// 5. Events: kausale Kanten zu den betroffenen Entitäten
	for _, ev := range payload.Events {
		touched, err := s.linkEventEntities(ctx, ev, tagByID, freshByTag)
		if err != nil {
			log.Error("Event-Verknüpfung fehlgeschlagen",
				zap.String("event", ev.Name), zap.Error(err))
			continue
		}
		result.RelationsTouched += touched
	}

	log.Info("Artikel verarbeitet",
		zap.Int("tags_created", result.TagsCreated),
		zap.Int("mentions_created", result.MentionsCreated),
		zap.Int("mentions_skipped", result.MentionsSkipped),
		zap.Int("relations_touched", result.RelationsTouched))

	return result, nil
}

// collectCandidates ordnet die vier Payload-Listen ihren Tag-Typen zu.
func collectCandidates(payload ExtractedPayload) []mentionCandidate {
	var out []mentionCandidate
	for _, it := range payload.Entities {
		out = append(out, mentionCandidate{item: it, tagType: models.TagTypeEntity})
	}
	for _, it := range payload.Topics {
		out = append(out, mentionCandidate{item: it, tagType: models.TagTypeTopic})
	}
	for _, it := range payload.Events {
		out = append(out, mentionCandidate{item: it, tagType: models.TagTypeEvent})
	}
	for _, it := range payload.Regions {
		out = append(out, mentionCandidate{item: it, tagType: models.TagTypeRegion})
	}
	return out
}

// FindOrCreateTag löst einen Namen über die Alias-Tabelle auf und liefert den
// Tag zu (normalized_name, type); existiert keiner, wird er angelegt.
// Ein leerer Name nach Normalisierung ergibt (nil, false, nil).
func (s *ExtractService) FindOrCreateTag(ctx context.Context, name string, tagType models.TagType, subtype string, aliases []string) (*models.Tag, bool, error) {
	canonical := CanonicalName(name)
	normalized := NormalizeTagName(canonical)
	if normalized == "" {
		return nil, false, nil
	}

	db := s.DB.WithContext(ctx)

	var tag models.Tag
	err := db.Where("normalized_name = ? AND type = ?", normalized, tagType).First(&tag).Error
	if err == nil {
		// Aliase wachsen monoton; die Oberflächenform zählt dazu,
		// falls sie vom kanonischen Namen abweicht.
		incoming := aliases
		if surface := strings.TrimSpace(name); surface != "" && surface != canonical {
			incoming = append(incoming, surface)
		}
		updates := map[string]interface{}{}
		if tag.MergeAliases(incoming) {
			updates["aliases"] = tag.Aliases
		}
		if tag.Subtype == "" && subtype != "" {
			tag.Subtype = subtype
			updates["subtype"] = subtype
		}
		if len(updates) > 0 {
			if err := db.Model(&tag).Updates(updates).Error; err != nil {
				return nil, false, fmt.Errorf("update tag %d: %w", tag.ID, err)
			}
		}
		return &tag, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("lookup tag %q: %w", normalized, err)
	}

	tag = models.Tag{
		Name:           canonical,
		NormalizedName: normalized,
		Type:           tagType,
		Subtype:        subtype,
		LastSeenAt:     time.Now().UTC(),
	}
	incoming := aliases
	if surface := strings.TrimSpace(name); surface != "" && surface != canonical {
		incoming = append(incoming, surface)
	}
	tag.MergeAliases(incoming)

	// Paralleles Anlegen desselben Tags läuft auf den Unique-Index; in dem
	// Fall gewinnt die existierende Zeile.
	if err := db.Create(&tag).Error; err != nil {
		var existing models.Tag
		if lookupErr := db.Where("normalized_name = ? AND type = ?", normalized, tagType).First(&existing).Error; lookupErr == nil {
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("create tag %q: %w", normalized, err)
	}
	return &tag, true, nil
}

// insertMention legt die Mention an; Konflikte auf (tag_id, article_id)
// werden still ignoriert. Liefert true, wenn eine neue Zeile entstand.
func (s *ExtractService) insertMention(ctx context.Context, tagID uint, articleID, analysisID string, item ExtractedItem) (bool, error) {
	sentiment := item.Sentiment
	if sentiment == "" {
		sentiment = models.SentimentNeutral
	}
	relevance := item.Relevance
	if relevance <= 0 {
		relevance = 0.5
	}
	mention := models.TagMention{
		TagID:          tagID,
		ArticleID:      articleID,
		AnalysisID:     analysisID,
		Sentiment:      sentiment,
		SentimentScore: item.SentimentScore,
		Relevance:      relevance,
		Context:        item.Context,
		EventDate:      item.EventDate,
		Severity:       item.Severity,
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tag_id"}, {Name: "article_id"}},
		DoNothing: true,
	}).Create(&mention)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecomputeTagStats berechnet total_mentions, avg_sentiment und last_seen_at
// eines Tags aus der Mentions-Tabelle neu.
func (s *ExtractService) RecomputeTagStats(ctx context.Context, tagID uint) error {
	db := s.DB.WithContext(ctx)

	var agg struct {
		Total    int64
		AvgScore float64
		LastSeen time.Time
	}
	err := db.Model(&models.TagMention{}).
		Select("COUNT(*) AS total, COALESCE(AVG(sentiment_score), 0) AS avg_score, MAX(created_at) AS last_seen").
		Where("tag_id = ?", tagID).
		Scan(&agg).Error
	if err != nil {
		return fmt.Errorf("aggregate mentions for tag %d: %w", tagID, err)
	}

	updates := map[string]interface{}{
		"total_mentions": agg.Total,
		"avg_sentiment":  agg.AvgScore,
	}
	if !agg.LastSeen.IsZero() {
		updates["last_seen_at"] = agg.LastSeen
	}
	return db.Model(&models.Tag{}).Where("id = ?", tagID).Updates(updates).Error
}

// TouchRelation erhöht den Co-Occurrence-Zähler der Kante zwischen zwei Tags
// oder legt sie an. Gespeichert wird eine Richtung; der Lookup prüft beide,
// damit ein ungeordnetes Paar nie doppelt in der Tabelle landet.
func (s *ExtractService) TouchRelation(ctx context.Context, sourceID, targetID uint, relType models.RelationType) error {
	if sourceID == targetID {
		return nil
	}
	db := s.DB.WithContext(ctx)

	var rel models.TagRelation
	err := db.Where(
		"(source_tag_id = ? AND target_tag_id = ?) OR (source_tag_id = ? AND target_tag_id = ?)",
		sourceID, targetID, targetID, sourceID,
	).First(&rel).Error
	if err == nil {
		updates := map[string]interface{}{
			"co_occurrence_count": gorm.Expr("co_occurrence_count + 1"),
		}
		// Eine kausale Beobachtung stuft eine reine Mention-Kante hoch.
		if relType == models.RelationCausal && rel.Type == models.RelationMention {
			updates["type"] = relType
		}
		return db.Model(&rel).Updates(updates).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup relation %d-%d: %w", sourceID, targetID, err)
	}

	rel = models.TagRelation{
		SourceTagID:       sourceID,
		TargetTagID:       targetID,
		Type:              relType,
		Strength:          0.1,
		CoOccurrenceCount: 1,
	}
	if err := db.Create(&rel).Error; err != nil {
		// Verlierer eines parallelen Anlegens: Zähler der Gewinner-Zeile erhöhen.
		var existing models.TagRelation
		if lookupErr := db.Where(
			"(source_tag_id = ? AND target_tag_id = ?) OR (source_tag_id = ? AND target_tag_id = ?)",
			sourceID, targetID, targetID, sourceID,
		).First(&existing).Error; lookupErr == nil {
			return db.Model(&existing).
				Update("co_occurrence_count", gorm.Expr("co_occurrence_count + 1")).Error
		}
		return fmt.Errorf("create relation %d-%d: %w", sourceID, targetID, err)
	}
	return nil
}

// linkEventEntities zieht kausale Kanten vom Event-Tag zu allen betroffenen
// Entitäten. Entitäten, die (noch) nicht als Tag existieren, werden
// übersprungen; sie entstehen erst mit ihrer ersten eigenen Mention.
func (s *ExtractService) linkEventEntities(ctx context.Context, ev ExtractedItem, tagByID map[uint]*models.Tag, freshByTag map[uint]bool) (int, error) {
	if len(ev.AffectedEntities) == 0 {
		return 0, nil
	}

	normalized := NormalizeTagName(CanonicalName(ev.Name))
	var eventTag *models.Tag
	for _, t := range tagByID {
		if t.Type == models.TagTypeEvent && t.NormalizedName == normalized {
			eventTag = t
			break
		}
	}
	if eventTag == nil {
		return 0, nil
	}

	db := s.DB.WithContext(ctx)
	touched := 0
	for _, entityName := range ev.AffectedEntities {
		norm := NormalizeTagName(CanonicalName(entityName))
		if norm == "" {
			continue
		}
		var entity models.Tag
		err := db.Where("normalized_name = ? AND type = ?", norm, models.TagTypeEntity).First(&entity).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return touched, err
		}
		if entity.ID == eventTag.ID {
			continue
		}
		// Kausale Kanten zählen nur bei frischem Event-Kontext, analog zu
		// den Mention-Paaren oben.
		if !freshByTag[eventTag.ID] && !freshByTag[entity.ID] {
			continue
		}
		if err := s.TouchRelation(ctx, eventTag.ID, entity.ID, models.RelationCausal); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

// GetTag liefert einen Tag; gorm.ErrRecordNotFound wenn er nicht existiert.
func (s *ExtractService) GetTag(ctx context.Context, id uint) (*models.Tag, error) {
	var tag models.Tag
	if err := s.DB.WithContext(ctx).First(&tag, id).Error; err != nil {
		return nil, err
	}
	return &tag, nil
}

// SearchTags sucht Tags per Namens-Prefix und optionalem Typ-Filter.
func (s *ExtractService) SearchTags(ctx context.Context, query string, tagType models.TagType, limit int) ([]models.Tag, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	db := s.DB.WithContext(ctx).Model(&models.Tag{})
	if query != "" {
		db = db.Where("normalized_name LIKE ?", NormalizeTagName(query)+"%")
	}
	if tagType != "" {
		db = db.Where("type = ?", tagType)
	}
	var tags []models.Tag
	err := db.Order("total_mentions DESC, id ASC").Limit(limit).Find(&tags).Error
	return tags, err
}
