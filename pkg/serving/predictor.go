package serving

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
)

// Predictor serves online inference against the most recent parameter
// snapshot on disk. The latest artifact is reloaded on modification, so a
// completed training job is picked up without a restart.
type Predictor struct {
	dir string

	mu      sync.RWMutex
	params  *engine.ModelParameters
	modTime int64
}

func NewPredictor(dir string) *Predictor {
	return &Predictor{dir: dir}
}

// Parameters returns the current snapshot, reloading it when the file on
// disk has changed. Inference against a returned snapshot stays consistent
// even if a newer artifact lands mid-request.
func (p *Predictor) Parameters() (*engine.ModelParameters, error) {
	latest := filepath.Join(p.dir, fmt.Sprintf("%s_latest.json", engine.ModelName))
	info, err := os.Stat(latest)
	if err != nil {
		return nil, fmt.Errorf("no model artifact: %w", err)
	}
	mod := info.ModTime().UnixNano()

	p.mu.RLock()
	params, cachedMod := p.params, p.modTime
	p.mu.RUnlock()
	if params != nil && cachedMod == mod {
		return params, nil
	}

	params, err = engine.Load(latest)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.params = params
	p.modTime = mod
	p.mu.Unlock()
	return params, nil
}

// Predict scores one evidence vector against the live snapshot.
func (p *Predictor) Predict(ev models.EvidenceVector) (models.PosteriorAssignment, error) {
	params, err := p.Parameters()
	if err != nil {
		return models.PosteriorAssignment{}, err
	}
	return engine.Infer(params, ev)
}
