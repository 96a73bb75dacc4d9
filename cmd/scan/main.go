package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"news-pulse/config"
	"news-pulse/models"
	"news-pulse/notify"
	"news-pulse/services"
	"news-pulse/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// keepReports begrenzt die Scan-Reports im Export-Bucket.
const keepReports = 30

// Einmaliger Wartungslauf für Deployments ohne laufenden Server-Prozess
// (z. B. Kubernetes CronJob): Kanten-Stärken, Snapshots, Anomalie-Scan,
// Report-Export. Einzelne Fehlschläge brechen den Lauf nicht ab; erst wenn
// kein Schritt durchkommt, endet der Prozess mit Exit-Code 1.
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

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}

	var notifiers []notify.Notifier
	if cfg.AlertWebhookURL != "" {
		timeout := time.Duration(cfg.AlertWebhookTimeout) * time.Second
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, timeout))
	}
	notifyManager := notify.NewManager(logging, notifiers...)

	graphService := services.NewGraphService(cfg, db, logging)
	trendService := services.NewTrendService(cfg, db, logging)
	anomalyService := services.NewAnomalyService(cfg, db, logging, notifyManager)

	ctx := context.Background()
	succeeded, failed := 0, 0

	// 1. Kanten-Stärken neu berechnen
	if count, err := graphService.UpdateRelationStrengths(ctx); err != nil {
		failed++
		logging.Error("Stärken-Neuberechnung fehlgeschlagen", zap.Error(err))
	} else {
		succeeded++
		logging.Info("Kanten-Stärken aktualisiert", zap.Int64("relations_updated", count))
	}

	// 2. Snapshots für alle Perioden schreiben
	for _, period := range []models.PeriodType{models.Period1h, models.Period24h, models.Period7d} {
		created, err := trendService.CreateSnapshotsForAllTags(ctx, period)
		if err != nil {
			failed++
			logging.Error("Snapshot-Lauf fehlgeschlagen", zap.String("period", string(period)), zap.Error(err))
			continue
		}
		succeeded++
		logging.Info("Snapshots geschrieben", zap.String("period", string(period)), zap.Int("created", created))
	}

	// 3. Anomalie-Scan
	result, err := anomalyService.RunFullScan(ctx, anomalyService.DefaultDetectorConfig())
	if err != nil {
		failed++
		logging.Error("Anomalie-Scan fehlgeschlagen", zap.Error(err))
	} else {
		succeeded++
	}

	// 4. Report exportieren und alte Reports rotieren
	if result != nil && cfg.ExportEnabled() {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			failed++
			logging.Error("S3 client creation failed", zap.Error(err))
		} else {
			key := fmt.Sprintf("reports/scan-%s.json", result.StartedAt.Format("20060102-150405"))
			link, err := storage.UploadJSON(ctx, s3Client, cfg, key, result)
			if err != nil {
				failed++
				logging.Error("Report-Upload fehlgeschlagen", zap.Error(err))
			} else {
				succeeded++
				logging.Info("Scan-Report hochgeladen", zap.String("link", link))
				rotateReports(ctx, s3Client, cfg, logging)
			}
		}
	}

	if succeeded == 0 {
		logging.Fatal("Alle Wartungsschritte fehlgeschlagen", zap.Int("failed", failed))
	}
	logging.Info("Wartungslauf abgeschlossen", zap.Int("succeeded", succeeded), zap.Int("failed", failed))
}

// rotateReports löscht die ältesten Scan-Reports über dem Limit.
func rotateReports(ctx context.Context, client *awss3.Client, cfg *config.Config, log *zap.Logger) {
	output, err := client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String(cfg.ExportS3Bucket),
		Prefix: aws.String("reports/"),
	})
	if err != nil {
		log.Warn("Report-Rotation: Listing fehlgeschlagen", zap.Error(err))
		return
	}

	if len(output.Contents) <= keepReports {
		return
	}

	sort.Slice(output.Contents, func(i, j int) bool {
		return output.Contents[i].LastModified.After(*output.Contents[j].LastModified)
	})

	for _, obj := range output.Contents[keepReports:] {
		log.Info("Lösche alten Scan-Report", zap.String("key", *obj.Key))
		_, err := client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(cfg.ExportS3Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Warn("Report-Rotation: Löschen fehlgeschlagen", zap.String("key", *obj.Key), zap.Error(err))
		}
	}
}
