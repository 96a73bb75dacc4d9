package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"news-pulse/config"
	"news-pulse/models"
	"news-pulse/notify"
	"news-pulse/services"
	"news-pulse/storage"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	mentionsIngestedCounter prometheus.Counter
	snapshotsWrittenCounter prometheus.Counter
	strengthUpdatesCounter  prometheus.Counter
	alertsCreatedCounter    prometheus.Counter
)

func init() {
	mentionsIngestedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mentions_ingested_total",
			Help: "Total number of tag mentions ingested from articles.",
		},
	)
	snapshotsWrittenCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trend_snapshots_written_total",
			Help: "Total number of trend snapshots written.",
		},
	)
	strengthUpdatesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relation_strength_updates_total",
			Help: "Total number of relation rows touched by strength recalculation.",
		},
	)
	alertsCreatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trend_alerts_created_total",
			Help: "Total number of trend alerts created.",
		},
	)
	prometheus.MustRegister(mentionsIngestedCounter, snapshotsWrittenCounter, strengthUpdatesCounter, alertsCreatedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// handleServiceError übersetzt Service-Fehler in HTTP-Statuscodes.
func handleServiceError(c *gin.Context, log *zap.Logger, err error, msg string) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidPeriod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryFloat(c *gin.Context, name string, def float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func queryUint(c *gin.Context, name string) uint {
	v, err := strconv.ParseUint(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func paramUint(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to tag database.")

	// Auto-Migration
	if gin.Mode() == gin.DebugMode {
		logging.Info("Debug mode detected. Dropping tables for fresh start.")
		db.Migrator().DropTable(&models.TagMention{}, &models.TagRelation{}, &models.TrendSnapshot{},
			&models.TrendAlert{}, &models.Tag{}, &models.Article{})
	}
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Article{}, &models.Tag{}, &models.TagMention{},
		&models.TagRelation{}, &models.TrendSnapshot{}, &models.TrendAlert{})

	// Seeding
	seedCanonicalTags(db, logging)

	// Setup Notification Channels
	var notifiers []notify.Notifier
	if cfg.AlertWebhookURL != "" {
		timeout := time.Duration(cfg.AlertWebhookTimeout) * time.Second
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, timeout))
		logging.Info("Alert webhook enabled", zap.String("url", cfg.AlertWebhookURL))
	}
	notifyManager := notify.NewManager(logging, notifiers...)

	// Setup S3 Export (optional)
	var s3Client *awss3.Client
	if cfg.ExportEnabled() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		logging.Info("Scan report export enabled", zap.String("bucket", cfg.ExportS3Bucket))
	}

	// Setup Services
	extractService := services.NewExtractService(cfg, db, logging)
	graphService := services.NewGraphService(cfg, db, logging)
	pathService := services.NewPathService(cfg, db, logging)
	trendService := services.NewTrendService(cfg, db, logging)
	anomalyService := services.NewAnomalyService(cfg, db, logging, notifyManager)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(router)

	// Setup Routes
	setupIngestRoutes(router, extractService)
	setupTagRoutes(router, extractService, trendService, logging)
	setupGraphRoutes(router, graphService, s3Client, cfg, logging)
	setupPathRoutes(router, pathService, logging)
	setupTrendRoutes(router, trendService, logging)
	setupAlertRoutes(router, anomalyService, s3Client, cfg, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.StrengthCronSchedule, func() {
		logging.Info("Running scheduled strength recalculation...")
		count, err := graphService.UpdateRelationStrengths(context.Background())
		if err != nil {
			logging.Error("Strength cron job failed", zap.Error(err))
		} else {
			logging.Info("Strength cron job completed", zap.Int64("relations_updated", count))
			strengthUpdatesCounter.Add(float64(count))
		}
	})
	cronScheduler.AddFunc(cfg.SnapshotCronSchedule, func() {
		logging.Info("Running scheduled snapshot job...")
		for _, period := range []models.PeriodType{models.Period1h, models.Period24h, models.Period7d} {
			created, err := trendService.CreateSnapshotsForAllTags(context.Background(), period)
			if err != nil {
				logging.Error("Snapshot cron job failed", zap.String("period", string(period)), zap.Error(err))
				continue
			}
			snapshotsWrittenCounter.Add(float64(created))
		}
	})
	cronScheduler.AddFunc(cfg.ScanCronSchedule, func() {
		logging.Info("Running scheduled anomaly scan...")
		result, err := anomalyService.RunFullScan(context.Background(), anomalyService.DefaultDetectorConfig())
		if err != nil {
			logging.Error("Scan cron job failed", zap.Error(err))
			return
		}
		alertsCreatedCounter.Add(float64(result.AlertsCreated))
		exportScanReport(context.Background(), s3Client, cfg, logging, result)
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// exportScanReport legt das Scan-Ergebnis als JSON-Report im Export-Bucket ab.
func exportScanReport(ctx context.Context, s3Client *awss3.Client, cfg *config.Config, log *zap.Logger, result *services.ScanResult) {
	if s3Client == nil {
		return
	}
	key := fmt.Sprintf("reports/scan-%s.json", result.StartedAt.Format("20060102-150405"))
	link, err := storage.UploadJSON(ctx, s3Client, cfg, key, result)
	if err != nil {
		log.Error("Scan report upload failed", zap.Error(err))
		return
	}
	log.Info("Scan report uploaded", zap.String("link", link))
}

func setupIngestRoutes(router *gin.Engine, extractService *services.ExtractService) {
	rg := router.Group("/ingest")

	// Nimmt einen Artikel samt Extraction-Payload entgegen und aktualisiert
	// Tags, Mentions und Co-Occurrence-Kanten in einem Durchgang.
	rg.POST("/article", func(c *gin.Context) {
		var req struct {
			Article  services.ArticleInput     `json:"article"`
			Analysis services.ExtractedPayload `json:"analysis"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := extractService.ProcessArticle(c.Request.Context(), req.Article, req.Analysis)
		if err != nil {
			handleServiceError(c, extractService.Logger, err, "article ingestion failed")
			return
		}
		mentionsIngestedCounter.Add(float64(result.MentionsCreated))
		c.JSON(http.StatusCreated, result)
	})
}

func setupTagRoutes(router *gin.Engine, extractService *services.ExtractService, trendService *services.TrendService, log *zap.Logger) {
	rg := router.Group("/tags")

	rg.GET("/search", func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
			return
		}
		tags, err := extractService.SearchTags(c.Request.Context(), query, models.TagType(c.Query("type")), queryInt(c, "limit", 20))
		if err != nil {
			handleServiceError(c, log, err, "tag search failed")
			return
		}
		c.JSON(http.StatusOK, tags)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
			return
		}
		tag, err := extractService.GetTag(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, log, err, "tag lookup failed")
			return
		}
		c.JSON(http.StatusOK, tag)
	})

	rg.GET("/:id/trend", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
			return
		}
		period := models.PeriodType(c.DefaultQuery("period", string(models.Period24h)))
		data, err := trendService.AggregateTagData(c.Request.Context(), id, period)
		if err != nil {
			handleServiceError(c, log, err, "trend aggregation failed")
			return
		}
		c.JSON(http.StatusOK, data)
	})

	rg.GET("/:id/timeline", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
			return
		}
		period := models.PeriodType(c.DefaultQuery("period", string(models.Period24h)))
		snapshots, err := trendService.GetTagTimeline(c.Request.Context(), id, period, queryInt(c, "periods", 24))
		if err != nil {
			handleServiceError(c, log, err, "timeline lookup failed")
			return
		}
		c.JSON(http.StatusOK, snapshots)
	})

	rg.POST("/:id/snapshot", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
			return
		}
		period := models.PeriodType(c.DefaultQuery("period", string(models.Period24h)))
		snapshot, err := trendService.CreateSnapshot(c.Request.Context(), id, period)
		if err != nil {
			handleServiceError(c, log, err, "snapshot creation failed")
			return
		}
		if snapshot == nil {
			// keine Mentions im Fenster, nichts geschrieben
			c.JSON(http.StatusOK, gin.H{"message": "no mentions in window, snapshot skipped"})
			return
		}
		snapshotsWrittenCounter.Inc()
		c.JSON(http.StatusCreated, snapshot)
	})
}

// setupGraphRoutes konfiguriert die Graph-Endpoints.
func setupGraphRoutes(router *gin.Engine, graphService *services.GraphService, s3Client *awss3.Client, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/graph")

	rg.GET("/", func(c *gin.Context) {
		graph, err := graphService.BuildGraph(c.Request.Context(),
			queryFloat(c, "min_strength", 0.3),
			queryInt(c, "max_nodes", 50),
			queryInt(c, "period_days", 30),
			models.TagType(c.Query("type")))
		if err != nil {
			handleServiceError(c, log, err, "graph build failed")
			return
		}
		c.JSON(http.StatusOK, graph)
	})

	rg.GET("/ego/:id", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
			return
		}
		graph, err := graphService.BuildEgoGraph(c.Request.Context(), id,
			queryInt(c, "depth", 2),
			queryFloat(c, "min_strength", 0.2))
		if err != nil {
			handleServiceError(c, log, err, "ego graph build failed")
			return
		}
		c.JSON(http.StatusOK, graph)
	})

	rg.GET("/stats", func(c *gin.Context) {
		stats, err := graphService.GetGraphStats(c.Request.Context())
		if err != nil {
			handleServiceError(c, log, err, "graph stats failed")
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	rg.GET("/clusters", func(c *gin.Context) {
		clusters, err := graphService.DetectClusters(c.Request.Context(), queryInt(c, "min_size", 3))
		if err != nil {
			handleServiceError(c, log, err, "cluster detection failed")
			return
		}
		c.JSON(http.StatusOK, clusters)
	})

	rg.GET("/centrality", func(c *gin.Context) {
		scores, err := graphService.CalculateCentrality(c.Request.Context())
		if err != nil {
			handleServiceError(c, log, err, "centrality calculation failed")
			return
		}
		c.JSON(http.StatusOK, scores)
	})

	rg.GET("/at", func(c *gin.Context) {
		date, err := time.Parse(time.RFC3339, c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'date' must be RFC3339"})
			return
		}
		graph, err := graphService.BuildGraphAtTime(c.Request.Context(), date,
			queryFloat(c, "min_strength", 0.3),
			queryInt(c, "max_nodes", 50))
		if err != nil {
			handleServiceError(c, log, err, "historical graph build failed")
			return
		}
		c.JSON(http.StatusOK, graph)
	})

	rg.GET("/diff", func(c *gin.Context) {
		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'from' must be RFC3339"})
			return
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'to' must be RFC3339"})
			return
		}
		diff, err := graphService.GetGraphDiff(c.Request.Context(), from, to, queryInt(c, "max_nodes", 50))
		if err != nil {
			handleServiceError(c, log, err, "graph diff failed")
			return
		}
		c.JSON(http.StatusOK, diff)
	})

	rg.POST("/update-strengths", func(c *gin.Context) {
		count, err := graphService.UpdateRelationStrengths(c.Request.Context())
		if err != nil {
			handleServiceError(c, log, err, "strength recalculation failed")
			return
		}
		strengthUpdatesCounter.Add(float64(count))
		c.JSON(http.StatusOK, gin.H{"relations_updated": count})
	})

	// Exportiert den aktuellen Graphen als JSON nach S3 und liefert den Link zurück.
	rg.POST("/export", func(c *gin.Context) {
		if s3Client == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "graph export is not configured"})
			return
		}
		graph, err := graphService.BuildGraph(c.Request.Context(),
			queryFloat(c, "min_strength", 0.3),
			queryInt(c, "max_nodes", 50),
			queryInt(c, "period_days", 30),
			models.TagType(c.Query("type")))
		if err != nil {
			handleServiceError(c, log, err, "graph build failed")
			return
		}
		key := fmt.Sprintf("exports/graph-%s.json", graph.GeneratedAt.UTC().Format("20060102-150405"))
		link, err := storage.UploadJSON(c.Request.Context(), s3Client, cfg, key, graph)
		if err != nil {
			log.Error("Graph-Export fehlgeschlagen", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "graph export failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"link":  link,
			"nodes": len(graph.Nodes),
			"edges": len(graph.Edges),
		})
	})
}

func setupPathRoutes(router *gin.Engine, pathService *services.PathService, log *zap.Logger) {
	rg := router.Group("/paths")

	rg.GET("/shortest", func(c *gin.Context) {
		path, err := pathService.FindShortestPath(c.Request.Context(),
			queryUint(c, "from"), queryUint(c, "to"),
			queryInt(c, "max_depth", 5),
			queryFloat(c, "min_strength", 0.1))
		if err != nil {
			handleServiceError(c, log, err, "shortest path search failed")
			return
		}
		if path == nil {
			c.JSON(http.StatusOK, gin.H{"path": nil, "message": "no path found"})
			return
		}
		c.JSON(http.StatusOK, path)
	})

	rg.GET("/weighted", func(c *gin.Context) {
		path, err := pathService.FindWeightedPath(c.Request.Context(),
			queryUint(c, "from"), queryUint(c, "to"),
			queryInt(c, "max_depth", 5),
			queryFloat(c, "min_strength", 0.1))
		if err != nil {
			handleServiceError(c, log, err, "weighted path search failed")
			return
		}
		if path == nil {
			c.JSON(http.StatusOK, gin.H{"path": nil, "message": "no path found"})
			return
		}
		c.JSON(http.StatusOK, path)
	})

	rg.GET("/all", func(c *gin.Context) {
		paths, err := pathService.FindAllPaths(c.Request.Context(),
			queryUint(c, "from"), queryUint(c, "to"),
			queryInt(c, "max_depth", 3),
			queryInt(c, "max_paths", 10))
		if err != nil {
			handleServiceError(c, log, err, "path enumeration failed")
			return
		}
		c.JSON(http.StatusOK, paths)
	})

	rg.GET("/common-neighbors", func(c *gin.Context) {
		neighbors, err := pathService.FindCommonNeighbors(c.Request.Context(),
			queryUint(c, "node1"), queryUint(c, "node2"),
			queryFloat(c, "min_strength", 0.1))
		if err != nil {
			handleServiceError(c, log, err, "common neighbor search failed")
			return
		}
		c.JSON(http.StatusOK, neighbors)
	})

	rg.GET("/analyze", func(c *gin.Context) {
		analysis, err := pathService.AnalyzeRelationship(c.Request.Context(),
			queryUint(c, "node1"), queryUint(c, "node2"))
		if err != nil {
			handleServiceError(c, log, err, "relationship analysis failed")
			return
		}
		c.JSON(http.StatusOK, analysis)
	})
}

func setupTrendRoutes(router *gin.Engine, trendService *services.TrendService, log *zap.Logger) {
	rg := router.Group("/trends")

	rg.GET("/hot", func(c *gin.Context) {
		period := models.PeriodType(c.DefaultQuery("period", string(models.Period24h)))
		trends, err := trendService.GetHotTrends(c.Request.Context(), period, queryInt(c, "limit", 10))
		if err != nil {
			handleServiceError(c, log, err, "hot trend lookup failed")
			return
		}
		c.JSON(http.StatusOK, trends)
	})

	// Snapshot-Lauf über alle aktiven Tags, asynchron wie der Cron-Job
	rg.POST("/snapshots", func(c *gin.Context) {
		period := models.PeriodType(c.DefaultQuery("period", string(models.Period24h)))
		if _, ok := period.Duration(); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period type"})
			return
		}
		go func() {
			created, err := trendService.CreateSnapshotsForAllTags(context.Background(), period)
			if err != nil {
				trendService.Logger.Error("Async snapshot run failed", zap.Error(err))
				return
			}
			snapshotsWrittenCounter.Add(float64(created))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": fmt.Sprintf("Snapshot run for period %s triggered.", period)})
	})
}

func setupAlertRoutes(router *gin.Engine, anomalyService *services.AnomalyService, s3Client *awss3.Client, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/alerts")

	rg.GET("/", func(c *gin.Context) {
		alerts, err := anomalyService.GetActiveAlerts(c.Request.Context(), services.AlertFilters{
			Severity:  models.AlertSeverity(c.Query("severity")),
			AlertType: models.AlertType(c.Query("type")),
			TagID:     queryUint(c, "tag_id"),
			Limit:     queryInt(c, "limit", 50),
		})
		if err != nil {
			handleServiceError(c, log, err, "alert lookup failed")
			return
		}
		c.JSON(http.StatusOK, alerts)
	})

	rg.GET("/stats", func(c *gin.Context) {
		stats, err := anomalyService.GetAlertStats(c.Request.Context())
		if err != nil {
			handleServiceError(c, log, err, "alert stats failed")
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	rg.POST("/:id/acknowledge", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'user_id' field is required."})
			return
		}
		alert, err := anomalyService.AcknowledgeAlert(c.Request.Context(), id, req.UserID)
		if err != nil {
			handleServiceError(c, log, err, "alert acknowledgement failed")
			return
		}
		c.JSON(http.StatusOK, alert)
	})

	// Prüft einen einzelnen Tag sofort auf Spike und Sentiment-Shift und
	// persistiert gefundene Anomalien über das Dedup-Fenster.
	rg.POST("/check/:id", func(c *gin.Context) {
		id, ok := paramUint(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
			return
		}
		detectorCfg := anomalyService.DefaultDetectorConfig()

		var created []models.TrendAlert
		for _, check := range []func(context.Context, uint, services.DetectorConfig) (*models.TrendAlert, error){
			anomalyService.CheckForSpike,
			anomalyService.CheckForSentimentShift,
		} {
			candidate, err := check(c.Request.Context(), id, detectorCfg)
			if err != nil {
				handleServiceError(c, log, err, "anomaly check failed")
				return
			}
			if candidate == nil {
				continue
			}
			fresh, err := anomalyService.CreateAlert(c.Request.Context(), candidate)
			if err != nil {
				handleServiceError(c, log, err, "alert creation failed")
				return
			}
			if fresh {
				alertsCreatedCounter.Inc()
				created = append(created, *candidate)
			}
		}
		c.JSON(http.StatusOK, gin.H{"alerts_created": len(created), "alerts": created})
	})

	// Voller Scan über alle aktiven Tags, asynchron wie der Cron-Job
	rg.POST("/scan", func(c *gin.Context) {
		go func() {
			result, err := anomalyService.RunFullScan(context.Background(), anomalyService.DefaultDetectorConfig())
			if err != nil {
				anomalyService.Logger.Error("Async anomaly scan failed", zap.Error(err))
				return
			}
			alertsCreatedCounter.Add(float64(result.AlertsCreated))
			exportScanReport(context.Background(), s3Client, cfg, anomalyService.Logger, result)
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Anomaly scan triggered."})
	})
}

// seedCanonicalTags legt beim ersten Start die Basis-Entitäten an, auf die
// der Alias-Katalog verweist.
func seedCanonicalTags(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.Tag{}).Count(&count)
	if count > 0 {
		return
	}

	now := time.Now().UTC()
	mustAliases := func(names ...string) []byte {
		b, _ := json.Marshal(names)
		return b
	}
	tags := []models.Tag{
		{Name: "Bitcoin", NormalizedName: "bitcoin", Type: models.TagTypeEntity, Subtype: "cryptocurrency", Aliases: mustAliases("BTC", "XBT"), LastSeenAt: now},
		{Name: "Ethereum", NormalizedName: "ethereum", Type: models.TagTypeEntity, Subtype: "cryptocurrency", Aliases: mustAliases("ETH", "Ether"), LastSeenAt: now},
		{Name: "Federal Reserve", NormalizedName: "federalreserve", Type: models.TagTypeEntity, Subtype: "organization", Aliases: mustAliases("Fed"), LastSeenAt: now},
		{Name: "SEC", NormalizedName: "sec", Type: models.TagTypeEntity, Subtype: "organization", Aliases: mustAliases("Securities and Exchange Commission"), LastSeenAt: now},
		{Name: "United States", NormalizedName: "unitedstates", Type: models.TagTypeRegion, Aliases: mustAliases("USA", "US"), LastSeenAt: now},
		{Name: "European Union", NormalizedName: "europeanunion", Type: models.TagTypeRegion, Aliases: mustAliases("EU"), LastSeenAt: now},
	}
	if err := db.Create(&tags).Error; err != nil {
		logger.Warn("Failed to seed canonical tags", zap.Error(err))
	} else {
		logger.Info("Canonical tags seeded.")
	}
}
