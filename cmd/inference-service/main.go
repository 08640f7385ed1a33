package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/google/uuid"

	"github.com/phenoscope/platform/pkg/cohort"
	"github.com/phenoscope/platform/pkg/common/config"
	"github.com/phenoscope/platform/pkg/common/database"
	"github.com/phenoscope/platform/pkg/common/kafka"
	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/phenoscope/platform/pkg/observability/metrics"
	"github.com/phenoscope/platform/pkg/phenostore"
	"github.com/phenoscope/platform/pkg/phi"
	"github.com/phenoscope/platform/pkg/records"
	"github.com/phenoscope/platform/pkg/serving"
	"github.com/phenoscope/platform/pkg/summary"
	"github.com/phenoscope/platform/pkg/valence"
)

type InferenceAPI struct {
	detector  *valence.Detector
	extractor *features.Extractor
	predictor *serving.Predictor
	builder   *summary.Builder
	store     *phenostore.Store
	selector  *cohort.Selector
	predLog   *serving.Repository
	records   *records.Repository
	scrubber  *phi.Scrubber
	producer  *kafka.Producer
}

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	store := phenostore.NewStore(db, database.GetRedis(), cfg.SummaryCacheTTL)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate summaries")
	}
	predLog := serving.NewRepository(db)
	if err := predLog.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate prediction logs")
	}
	recordRepo := records.NewRepository(db)
	if err := recordRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate patient records")
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

	producer := kafka.NewProducer("record-events")
	defer producer.Close()

	api := &InferenceAPI{
		detector:  valence.NewDetector(lexicon),
		extractor: features.NewExtractor(vocab, ranges),
		predictor: serving.NewPredictor(cfg.ArtifactDir),
		builder: summary.NewBuilder(summary.Config{
			TopPhenotypes:    cfg.SummaryTopPhenotypes,
			TopFeatures:      cfg.SummaryTopFeatures,
			ProbabilityFloor: cfg.SummaryFloor,
		}, vocab),
		store:    store,
		selector: cohort.NewSelector(store),
		predLog:  predLog,
		records:  recordRepo,
		scrubber: scrubber,
		producer: producer,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", handleMetrics).Methods("GET")
	router.HandleFunc("/api/v1/records", api.handleIngest).Methods("POST")
	router.HandleFunc("/api/v1/phenotypes/infer", api.handleInfer).Methods("POST")
	router.HandleFunc("/api/v1/phenotypes/{record_id}", api.handleGetSummary).Methods("GET")
	router.HandleFunc("/api/v1/cohorts/query", api.handleCohortQuery).Methods("POST")
	router.HandleFunc("/api/v1/predictions", api.handleRecentPredictions).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Inference Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Inference Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Inference Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

// handleIngest persists a submitted record and publishes the ingestion
// event consumed by the phenotyping worker. Note text is scrubbed before it
// is stored.
func (a *InferenceAPI) handleIngest(w http.ResponseWriter, r *http.Request) {
	var record models.PatientRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if record.PatientID == "" {
		http.Error(w, "patient id is required", http.StatusBadRequest)
		return
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.IngestedAt = time.Now().UTC()

	scrubbed := a.scrubber.ScrubRecord(&record)
	if err := a.records.Create(r.Context(), scrubbed); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.producer.PublishEvent(r.Context(), kafka.EventRecordIngested, "inference-service", map[string]interface{}{
		"record_id":  scrubbed.ID,
		"patient_id": scrubbed.PatientID,
	}); err != nil {
		logger.Log.WithError(err).Error("Failed to publish ingestion event")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"record_id": scrubbed.ID})
}

func (a *InferenceAPI) handleInfer(w http.ResponseWriter, r *http.Request) {
	var record models.PatientRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if record.ID == "" {
		http.Error(w, "record id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	for i := range record.Sections {
		a.detector.Annotate(&record.Sections[i])
	}
	evidence, diags, err := a.extractor.Extract(&record)
	if err != nil {
		metrics.IncPredictionFailures()
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	metrics.AddOutOfVocabulary(totalOOV(diags))

	post, err := a.predictor.Predict(evidence)
	if err != nil {
		metrics.IncPredictionFailures()
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrConfigurationMismatch) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	result := a.builder.Build(post)
	if err := a.store.Put(r.Context(), record.PatientID, result); err != nil {
		logger.Log.WithError(err).Error("Failed to persist summary")
	}
	params, _ := a.predictor.Parameters()
	version := 0
	if params != nil {
		version = params.Version
	}
	if err := a.predLog.RecordPrediction(r.Context(), record.PatientID, version, post, time.Since(start)); err != nil {
		logger.Log.WithError(err).Error("Failed to log prediction")
	}
	metrics.IncPredictionsServed()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (a *InferenceAPI) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["record_id"]
	sum, err := a.store.Get(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, phenostore.ErrNotFound) {
			http.Error(w, "Summary not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sum)
}

func (a *InferenceAPI) handleCohortQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	members, err := a.selector.Select(r.Context(), req.Query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   len(members),
		"members": members,
	})
}

func (a *InferenceAPI) handleRecentPredictions(w http.ResponseWriter, r *http.Request) {
	logs, err := a.predLog.Recent(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}

func totalOOV(diags features.Diagnostics) int {
	total := 0
	for _, n := range diags.OutOfVocabulary {
		total += n
	}
	return total
}
