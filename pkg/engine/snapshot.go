package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactVersion is bumped whenever the persisted parameter layout changes.
const ArtifactVersion = 1

// ModelName keys the artifact files on disk, matching the serving side's
// "<name>_latest.json" convention.
const ModelName = "phenotype"

// Encode serializes a snapshot as a versioned artifact. Float64 values
// round-trip exactly through JSON, so a decoded snapshot reproduces
// bit-identical inference.
func Encode(params *ModelParameters) ([]byte, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: nil model parameters", ErrInvalidConfiguration)
	}
	return json.MarshalIndent(params, "", "  ")
}

// Decode restores a snapshot, rejecting artifacts from incompatible engine
// versions and rebuilding the vocabulary index.
func Decode(payload []byte) (*ModelParameters, error) {
	var params ModelParameters
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if params.Version != ArtifactVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrArtifactVersion, params.Version, ArtifactVersion)
	}
	if params.K < 1 || len(params.LogMixture) != params.K {
		return nil, fmt.Errorf("%w: artifact mixture shape does not match K=%d", ErrConfigurationMismatch, params.K)
	}
	if params.Vocabulary != nil {
		params.Vocabulary.Rebuild()
	}
	return &params, nil
}

// Save writes both the named artifact and the "<model>_latest.json" copy the
// online predictor hot-loads.
func Save(params *ModelParameters, dir, name string) (string, error) {
	payload, err := Encode(params)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.json", name))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	latest := filepath.Join(dir, fmt.Sprintf("%s_latest.json", ModelName))
	if err := os.WriteFile(latest, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads an artifact from disk.
func Load(path string) (*ModelParameters, error) {
	payload, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}
