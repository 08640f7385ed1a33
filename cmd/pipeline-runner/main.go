package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/phenoscope/platform/pkg/common/config"
	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/phenoscope/platform/pkg/phi"
	"github.com/phenoscope/platform/pkg/pipeline"
	"github.com/phenoscope/platform/pkg/records"
	"github.com/phenoscope/platform/pkg/serving"
	"github.com/phenoscope/platform/pkg/summary"
	"github.com/phenoscope/platform/pkg/valence"
)

var (
	notesPath       string
	diagnosesPath   string
	medicationsPath string
	labsPath        string
	artifactDir     string
	outputPath      string
)

var rootCmd = &cobra.Command{
	Use:   "pipeline-runner",
	Short: "Batch phenotyping over CSV corpora",
	Long:  "Runs the phenotyping pipeline over file-based corpora: train a model from CSVs or score them against an existing artifact.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&notesPath, "notes", "", "Clinical notes CSV (patient_id,section,text)")
	rootCmd.PersistentFlags().StringVar(&diagnosesPath, "diagnoses", "", "Diagnosis codes CSV (patient_id,system,code,timestamp)")
	rootCmd.PersistentFlags().StringVar(&medicationsPath, "medications", "", "Medication codes CSV (patient_id,system,code,timestamp)")
	rootCmd.PersistentFlags().StringVar(&labsPath, "labs", "", "Lab results CSV (patient_id,test_code,value,unit,timestamp)")
	rootCmd.PersistentFlags().StringVar(&artifactDir, "artifacts", "artifacts", "Model artifact directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Score a CSV corpus against the latest model artifact",
		Run:   runBatch,
	}
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write summaries to this file instead of stdout")
	rootCmd.AddCommand(runCmd)

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a model from a CSV corpus and save the artifact",
		Run:   runTrain,
	}
	rootCmd.AddCommand(trainCmd)
}

func main() {
	logger.Init()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func loadCorpus() []*models.PatientRecord {
	reader := records.CSVReader{
		NotesPath:       notesPath,
		DiagnosesPath:   diagnosesPath,
		MedicationsPath: medicationsPath,
		LabsPath:        labsPath,
	}
	corpus, err := reader.ReadCorpus()
	if err != nil {
		exitErr("read corpus", err)
	}
	if len(corpus) == 0 {
		exitErr("read corpus", fmt.Errorf("no records found"))
	}
	return corpus
}

func loadExtraction(cfg *config.Config) (*valence.Detector, *features.Extractor) {
	lexicon, err := valence.LoadLexicon(cfg.TriggerLexiconPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Falling back to built-in trigger lexicon")
	}
	vocab, err := features.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		exitErr("load vocabulary", err)
	}
	ranges, err := features.LoadReferenceTable(cfg.LabRangesPath)
	if err != nil {
		exitErr("load reference ranges", err)
	}
	return valence.NewDetector(lexicon), features.NewExtractor(vocab, ranges)
}

func runBatch(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	corpus := loadCorpus()
	detector, extractor := loadExtraction(cfg)

	params, err := serving.NewPredictor(artifactDir).Parameters()
	if err != nil {
		exitErr("load model", err)
	}
	scrubber, err := phi.NewScrubber(phi.DefaultRules())
	if err != nil {
		exitErr("compile scrub rules", err)
	}
	builder := summary.NewBuilder(summary.Config{
		TopPhenotypes:    cfg.SummaryTopPhenotypes,
		TopFeatures:      cfg.SummaryTopFeatures,
		ProbabilityFloor: cfg.SummaryFloor,
	}, extractor.Vocabulary())

	runner := pipeline.NewRunner(detector, extractor, params, builder, scrubber)
	result, err := runner.Run(cmd.Context(), corpus)
	if err != nil {
		exitErr("run pipeline", err)
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitErr("encode result", err)
	}
	if outputPath == "" {
		fmt.Println(string(payload))
		return
	}
	if err := os.WriteFile(outputPath, payload, 0o644); err != nil {
		exitErr("write output", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"records":   len(corpus),
		"summaries": len(result.Summaries),
		"skipped":   len(result.Skipped),
		"output":    outputPath,
	}).Info("Batch run complete")
}

func runTrain(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	corpus := loadCorpus()
	detector, extractor := loadExtraction(cfg)

	evidence := make([]models.EvidenceVector, 0, len(corpus))
	skipped := 0
	for _, record := range corpus {
		for i := range record.Sections {
			detector.Annotate(&record.Sections[i])
		}
		ev, _, err := extractor.Extract(record)
		if err != nil {
			logger.Log.WithField("record_id", record.ID).WithError(err).Warn("Record excluded from training")
			skipped++
			continue
		}
		evidence = append(evidence, ev)
	}

	trainer, err := engine.NewTrainer(engine.Config{
		PhenotypeCount:       cfg.PhenotypeCount,
		MaxIterations:        cfg.MaxIterations,
		ConvergenceThreshold: cfg.ConvergenceThreshold,
		SmoothingPseudocount: cfg.SmoothingPseudocount,
		Seed:                 cfg.RandomSeed,
		Workers:              cfg.TrainingWorkers,
		ModalityWeights: map[models.Modality]float64{
			models.ModalityText:       cfg.ModalityWeightText,
			models.ModalityDiagnosis:  cfg.ModalityWeightDiag,
			models.ModalityMedication: cfg.ModalityWeightMeds,
			models.ModalityLab:        cfg.ModalityWeightLabs,
		},
	})
	if err != nil {
		exitErr("configure trainer", err)
	}

	result, err := trainer.Fit(cmd.Context(), evidence, extractor.Vocabulary())
	if err != nil {
		exitErr("fit model", err)
	}

	name := fmt.Sprintf("batch-%s", time.Now().UTC().Format("20060102T150405"))
	path, err := engine.Save(result.Parameters, artifactDir, name)
	if err != nil {
		exitErr("save artifact", err)
	}

	report := map[string]interface{}{
		"artifact":             path,
		"records":              len(evidence),
		"records_skipped":      skipped,
		"iterations":           result.Iterations,
		"converged":            result.Converged,
		"final_log_likelihood": result.LogLikelihoods[len(result.LogLikelihoods)-1],
	}
	payload, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(payload))
}
