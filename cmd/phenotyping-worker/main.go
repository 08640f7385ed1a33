package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/phenoscope/platform/pkg/common/config"
	"github.com/phenoscope/platform/pkg/common/database"
	"github.com/phenoscope/platform/pkg/common/kafka"
	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/phenoscope/platform/pkg/observability/metrics"
	"github.com/phenoscope/platform/pkg/phenostore"
	"github.com/phenoscope/platform/pkg/phi"
	"github.com/phenoscope/platform/pkg/records"
	"github.com/phenoscope/platform/pkg/serving"
	"github.com/phenoscope/platform/pkg/summary"
	"github.com/phenoscope/platform/pkg/valence"
)

// PhenotypingWorker consumes ingestion events, phenotypes the referenced
// record against the latest model snapshot, and publishes the summary.
type PhenotypingWorker struct {
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	repo      *records.Repository
	detector  *valence.Detector
	extractor *features.Extractor
	predictor *serving.Predictor
	builder   *summary.Builder
	scrubber  *phi.Scrubber
	store     *phenostore.Store
}

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	repo := records.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate patient records")
	}
	store := phenostore.NewStore(db, database.GetRedis(), cfg.SummaryCacheTTL)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate summaries")
	}

	lexicon, err := valence.LoadLexicon(cfg.TriggerLexiconPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in trigger lexicon")
	}
	vocab, err := features.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load vocabulary")
	}
	ranges, err := features.LoadReferenceTable(cfg.LabRangesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load lab reference ranges")
	}
	scrubber, err := phi.NewScrubber(phi.DefaultRules())
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to compile scrub rules")
	}

	worker := &PhenotypingWorker{
		repo:      repo,
		detector:  valence.NewDetector(lexicon),
		extractor: features.NewExtractor(vocab, ranges),
		predictor: serving.NewPredictor(cfg.ArtifactDir),
		builder: summary.NewBuilder(summary.Config{
			TopPhenotypes:    cfg.SummaryTopPhenotypes,
			TopFeatures:      cfg.SummaryTopFeatures,
			ProbabilityFloor: cfg.SummaryFloor,
		}, vocab),
		scrubber: scrubber,
		store:    store,
	}

	worker.producer = kafka.NewProducer("phenotype-events")
	defer worker.producer.Close()

	worker.consumer = kafka.NewConsumer("record-events", "phenotyping-worker")
	defer worker.consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := worker.consumer.Consume(ctx, worker.processEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", handleMetrics).Methods("GET")

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Phenotyping Worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Phenotyping Worker...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Phenotyping Worker stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func (wk *PhenotypingWorker) processEvent(ctx context.Context, event models.Event) error {
	if event.Type != kafka.EventRecordIngested {
		return nil
	}
	recordID, _ := event.Data["record_id"].(string)
	if recordID == "" {
		logger.Log.WithField("event_id", event.ID).Warn("Event missing record_id")
		return nil
	}

	record, err := wk.repo.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			logger.Log.WithField("record_id", recordID).Warn("Record not found, dropping event")
			return nil
		}
		return err
	}

	for i := range record.Sections {
		wk.detector.Annotate(&record.Sections[i])
	}
	evidence, diags, err := wk.extractor.Extract(record)
	if err != nil {
		// A record-level defect is terminal for this record. Commit the
		// event so it is not retried forever.
		reason := wk.scrubber.Scrub(err.Error())
		logger.Log.WithFields(map[string]interface{}{
			"record_id": recordID,
			"reason":    reason,
		}).Warn("Record skipped")
		metrics.IncRecordsSkipped()
		return nil
	}
	metrics.AddOutOfVocabulary(totalOOV(diags))

	post, err := wk.predictor.Predict(evidence)
	if err != nil {
		return err
	}
	result := wk.builder.Build(post)
	if err := wk.store.Put(ctx, record.PatientID, result); err != nil {
		return err
	}
	metrics.IncRecordsProcessed()

	return wk.producer.PublishEvent(ctx, kafka.EventPhenotypeSummarized, "phenotyping-worker", map[string]interface{}{
		"record_id":  record.ID,
		"patient_id": record.PatientID,
	})
}

func totalOOV(diags features.Diagnostics) int {
	total := 0
	for _, n := range diags.OutOfVocabulary {
		total += n
	}
	return total
}
