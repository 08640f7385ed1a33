package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	recordsProcessed    atomic.Int64
	recordsSkipped      atomic.Int64
	predictionsServed   atomic.Int64
	predictionFailures  atomic.Int64
	trainingJobsStarted atomic.Int64
	trainingJobsFailed  atomic.Int64
	oovFeaturesSeen     atomic.Int64
)

func Init() {}

func IncRecordsProcessed() {
	recordsProcessed.Add(1)
}

func IncRecordsSkipped() {
	recordsSkipped.Add(1)
}

func IncPredictionsServed() {
	predictionsServed.Add(1)
}

func IncPredictionFailures() {
	predictionFailures.Add(1)
}

func IncTrainingJobsStarted() {
	trainingJobsStarted.Add(1)
}

func IncTrainingJobsFailed() {
	trainingJobsFailed.Add(1)
}

func AddOutOfVocabulary(n int) {
	oovFeaturesSeen.Add(int64(n))
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP phenoscope_records_processed_total Number of records fully processed by the pipeline.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_records_processed_total counter\n")
	fmt.Fprintf(w, "phenoscope_records_processed_total %d\n", recordsProcessed.Load())

	fmt.Fprintf(w, "# HELP phenoscope_records_skipped_total Number of records skipped due to record-level errors.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_records_skipped_total counter\n")
	fmt.Fprintf(w, "phenoscope_records_skipped_total %d\n", recordsSkipped.Load())

	fmt.Fprintf(w, "# HELP phenoscope_predictions_served_total Number of online inference requests served.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_predictions_served_total counter\n")
	fmt.Fprintf(w, "phenoscope_predictions_served_total %d\n", predictionsServed.Load())

	fmt.Fprintf(w, "# HELP phenoscope_prediction_failures_total Number of online inference requests that failed.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_prediction_failures_total counter\n")
	fmt.Fprintf(w, "phenoscope_prediction_failures_total %d\n", predictionFailures.Load())

	fmt.Fprintf(w, "# HELP phenoscope_training_jobs_started_total Number of training jobs accepted.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_training_jobs_started_total counter\n")
	fmt.Fprintf(w, "phenoscope_training_jobs_started_total %d\n", trainingJobsStarted.Load())

	fmt.Fprintf(w, "# HELP phenoscope_training_jobs_failed_total Number of training jobs that failed validation or fitting.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_training_jobs_failed_total counter\n")
	fmt.Fprintf(w, "phenoscope_training_jobs_failed_total %d\n", trainingJobsFailed.Load())

	fmt.Fprintf(w, "# HELP phenoscope_oov_features_total Number of out-of-vocabulary features observed during extraction.\n")
	fmt.Fprintf(w, "# TYPE phenoscope_oov_features_total counter\n")
	fmt.Fprintf(w, "phenoscope_oov_features_total %d\n", oovFeaturesSeen.Load())
}
