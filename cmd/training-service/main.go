package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/phenoscope/platform/pkg/common/config"
	"github.com/phenoscope/platform/pkg/common/database"
	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/phenoscope/platform/pkg/observability/metrics"
	"github.com/phenoscope/platform/pkg/records"
	"github.com/phenoscope/platform/pkg/training"
	"github.com/phenoscope/platform/pkg/valence"
)

type TrainingAPI struct {
	service *training.Service
	cfg     *config.Config
}

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	recordRepo := records.NewRepository(db)
	if err := recordRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate patient records")
	}
	jobRepo := training.NewRepository(db)
	if err := jobRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate training jobs")
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

	service, err := training.NewService(
		jobRepo,
		recordRepo,
		valence.NewDetector(lexicon),
		features.NewExtractor(vocab, ranges),
		cfg.ArtifactDir,
		cfg.TrainingWorkers,
	)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize training service")
	}

	api := &TrainingAPI{service: service, cfg: cfg}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/metrics", handleMetrics).Methods("GET")
	router.HandleFunc("/api/v1/training/jobs", api.handleCreateJob).Methods("POST")
	router.HandleFunc("/api/v1/training/jobs", api.handleListJobs).Methods("GET")
	router.HandleFunc("/api/v1/training/jobs/{id}", api.handleGetJob).Methods("GET")

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
		}).Info("Training Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Training Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Training Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func (a *TrainingAPI) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhenotypeCount       int     `json:"phenotype_count"`
		MaxIterations        int     `json:"max_iterations"`
		ConvergenceThreshold float64 `json:"convergence_threshold"`
		Smoothing            float64 `json:"smoothing"`
		Seed                 int64   `json:"seed"`
		CorpusLimit          int     `json:"corpus_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	cfg := engine.Config{
		PhenotypeCount:       req.PhenotypeCount,
		MaxIterations:        req.MaxIterations,
		ConvergenceThreshold: req.ConvergenceThreshold,
		SmoothingPseudocount: req.Smoothing,
		Seed:                 req.Seed,
		Workers:              a.cfg.TrainingWorkers,
		ModalityWeights: map[models.Modality]float64{
			models.ModalityText:       a.cfg.ModalityWeightText,
			models.ModalityDiagnosis:  a.cfg.ModalityWeightDiag,
			models.ModalityMedication: a.cfg.ModalityWeightMeds,
			models.ModalityLab:        a.cfg.ModalityWeightLabs,
		},
	}
	if cfg.PhenotypeCount == 0 {
		cfg.PhenotypeCount = a.cfg.PhenotypeCount
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = a.cfg.MaxIterations
	}
	if cfg.ConvergenceThreshold == 0 {
		cfg.ConvergenceThreshold = a.cfg.ConvergenceThreshold
	}
	if cfg.SmoothingPseudocount == 0 {
		cfg.SmoothingPseudocount = a.cfg.SmoothingPseudocount
	}
	if cfg.Seed == 0 {
		cfg.Seed = a.cfg.RandomSeed
	}

	job, err := a.service.Create(r.Context(), training.CreateJobInput{
		Engine:      cfg,
		CorpusLimit: req.CorpusLimit,
	})
	if err != nil {
		metrics.IncTrainingJobsFailed()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.IncTrainingJobsStarted()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (a *TrainingAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.service.List(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (a *TrainingAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	job, err := a.service.Get(r.Context(), id)
	if err != nil {
		if err == training.ErrJobNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}
