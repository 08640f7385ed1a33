package engine

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/features"
)

// trainingState makes the EM control flow explicit so checkpointing and
// testing have clean seams.
type trainingState int

const (
	stateIdle trainingState = iota
	stateEStep
	stateMStep
	stateConvergenceCheck
	stateConverged
	stateMaxIterations
)

// Result is the outcome of one training run. Non-convergence is reported,
// not raised: callers decide whether a model that hit the iteration cap is
// usable.
type Result struct {
	Parameters     *ModelParameters `json:"parameters"`
	LogLikelihoods []float64        `json:"log_likelihoods"`
	Iterations     int              `json:"iterations"`
	Converged      bool             `json:"converged"`
}

// Trainer fits the multi-modal mixture by coordinate ascent: parallel
// per-record E-step, barrier, single-threaded M-step aggregation, repeat.
// Each M-step swaps in a fresh immutable snapshot.
type Trainer struct {
	cfg Config
}

func NewTrainer(cfg Config) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Trainer{cfg: cfg}, nil
}

// Fit trains to a local optimum: log-likelihood improvement below the
// configured threshold, or the iteration cap, whichever comes first.
// Cancellation is honored between iterations only; a mid-iteration stop
// would leave partially aggregated state, so iterations run to completion.
func (t *Trainer) Fit(ctx context.Context, corpus []models.EvidenceVector, vocab *features.Vocabulary) (*Result, error) {
	if len(corpus) == 0 {
		return nil, fmt.Errorf("%w: empty training corpus", ErrInvalidConfiguration)
	}

	params, err := newRandomParameters(t.cfg, vocab)
	if err != nil {
		return nil, err
	}
	for _, ev := range corpus {
		if err := params.ValidateEvidence(ev); err != nil {
			return nil, err
		}
	}

	workers := t.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	resp := make([][]float64, len(corpus))
	var trace []float64
	iteration := 0
	state := stateEStep

	start := time.Now()
	for {
		switch state {
		case stateEStep:
			ll, err := t.eStep(params, corpus, resp, workers)
			if err != nil {
				return nil, err
			}
			trace = append(trace, ll)
			state = stateMStep

		case stateMStep:
			params = t.mStep(params, corpus, resp)
			iteration++
			state = stateConvergenceCheck

		case stateConvergenceCheck:
			// Iteration boundary: the only safe checkpoint.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n := len(trace)
			if n >= 2 && trace[n-1]-trace[n-2] < t.cfg.ConvergenceThreshold {
				state = stateConverged
			} else if iteration >= t.cfg.MaxIterations {
				state = stateMaxIterations
			} else {
				state = stateEStep
			}

		case stateConverged, stateMaxIterations:
			converged := state == stateConverged
			if !converged {
				logger.WithComponent("engine").WithFields(map[string]interface{}{
					"iterations": iteration,
					"threshold":  t.cfg.ConvergenceThreshold,
				}).Warn("Training stopped at iteration cap without converging")
			}
			logger.WithComponent("engine").WithFields(map[string]interface{}{
				"iterations":     iteration,
				"records":        len(corpus),
				"log_likelihood": trace[len(trace)-1],
				"duration_ms":    time.Since(start).Milliseconds(),
			}).Info("Training run finished")
			return &Result{
				Parameters:     params,
				LogLikelihoods: trace,
				Iterations:     iteration,
				Converged:      converged,
			}, nil
		}
	}
}

// eStep computes per-record responsibilities in parallel and returns the
// corpus log-likelihood. The WaitGroup is the barrier before aggregation.
func (t *Trainer) eStep(params *ModelParameters, corpus []models.EvidenceVector, resp [][]float64, workers int) (float64, error) {
	recordLL := make([]float64, len(corpus))
	errs := make([]error, workers)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := range jobs {
				post, ll, err := responsibilities(params, corpus[i])
				if err != nil {
					errs[worker] = err
					continue
				}
				resp[i] = post
				recordLL[i] = ll
			}
		}(w)
	}
	for i := range corpus {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}

	total := 0.0
	for _, ll := range recordLL {
		total += ll
	}
	return total, nil
}

// mStep re-estimates mixture weights and emission tables from the
// responsibility-weighted counts, with additive smoothing so unseen
// features keep non-zero probability. Returns a new snapshot; the previous
// one stays valid for any concurrent reader.
func (t *Trainer) mStep(params *ModelParameters, corpus []models.EvidenceVector, resp [][]float64) *ModelParameters {
	k := params.K
	pseudo := t.cfg.SmoothingPseudocount

	mixture := make([]float64, k)
	for i := range corpus {
		for ki := 0; ki < k; ki++ {
			mixture[ki] += resp[i][ki]
		}
	}
	logMixture := make([]float64, k)
	total := float64(len(corpus)) + pseudo*float64(k)
	for ki := 0; ki < k; ki++ {
		logMixture[ki] = math.Log((mixture[ki] + pseudo) / total)
	}

	logEmissions := make(map[models.Modality][][]float64, len(params.LogEmissions))
	for _, modality := range models.Modalities() {
		size := 0
		if len(params.LogEmissions[modality]) > 0 {
			size = len(params.LogEmissions[modality][0])
		}
		table := make([][]float64, k)
		for ki := 0; ki < k; ki++ {
			table[ki] = make([]float64, size)
		}
		if size == 0 {
			logEmissions[modality] = table
			continue
		}

		for i := range corpus {
			counts := corpus[i].Counts[modality]
			for _, featureID := range sortedFeatureIDs(counts) {
				count := counts[featureID]
				for ki := 0; ki < k; ki++ {
					table[ki][featureID] += resp[i][ki] * count
				}
			}
		}
		for ki := 0; ki < k; ki++ {
			rowTotal := pseudo * float64(size)
			for f := 0; f < size; f++ {
				rowTotal += table[ki][f]
			}
			for f := 0; f < size; f++ {
				table[ki][f] = math.Log((table[ki][f] + pseudo) / rowTotal)
			}
		}
		logEmissions[modality] = table
	}

	return &ModelParameters{
		Version:         params.Version,
		CreatedAt:       time.Now().UTC(),
		K:               k,
		Seed:            params.Seed,
		LogMixture:      logMixture,
		LogEmissions:    logEmissions,
		ModalityWeights: params.ModalityWeights,
		Vocabulary:      params.Vocabulary,
	}
}
