package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lottery-engine/internal/lottery"
)

// ModelVersion is one saved snapshot of a trained model.
type ModelVersion struct {
	Version   string            `json:"version"`
	Algorithm AlgorithmType     `json:"algorithm"`
	Variant   lottery.Variant   `json:"lottery_type"`
	Path      string            `json:"path"`
	CreatedAt time.Time         `json:"created_at"`
	Metrics   EvaluationMetrics `json:"metrics"`
	Samples   int               `json:"training_samples"`
	IsActive  bool              `json:"is_active"`
}

// ModelManager keeps a version history of model snapshots under one
// directory, with at most one active version per algorithm and variant.
type ModelManager struct {
	mu           sync.Mutex
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
	now          func() time.Time
}

// NewModelManager opens the version index in modelsDir. An unreadable index
// is logged and replaced by an empty one.
func NewModelManager(modelsDir string) (*ModelManager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, lottery.WrapAlgorithm(err, "create model directory %s", modelsDir)
	}
	mm := &ModelManager{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, "model_versions.json"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Str("path", mm.versionsFile).Msg("Failed to load model versions, starting fresh")
		mm.versions = nil
	}
	return mm, nil
}

// SaveVersion writes model as a new snapshot, records it and makes it the
// active version for its algorithm and variant.
func (mm *ModelManager) SaveVersion(model PredictionAlgorithm, variant lottery.Variant, metrics EvaluationMetrics, samples int) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	created := mm.now()
	version := mm.nextVersion(model.Type(), variant, created)
	path := filepath.Join(mm.modelsDir, string(variant), fmt.Sprintf("%s_%s.json", model.Type(), version))
	if err := model.SaveModel(path); err != nil {
		return ModelVersion{}, err
	}
	v := ModelVersion{
		Version:   version,
		Algorithm: model.Type(),
		Variant:   variant,
		Path:      path,
		CreatedAt: created,
		Metrics:   metrics,
		Samples:   samples,
	}
	mm.versions = append(mm.versions, v)
	mm.sortVersions()
	if err := mm.activate(v.Algorithm, variant, version); err != nil {
		return ModelVersion{}, err
	}
	v.IsActive = true
	return v, nil
}

// nextVersion is a timestamp, suffixed when two saves land in the same second.
func (mm *ModelManager) nextVersion(algo AlgorithmType, variant lottery.Variant, at time.Time) string {
	base := at.Format("20060102-150405")
	version := base
	for i := 1; mm.find(algo, variant, version) >= 0; i++ {
		version = fmt.Sprintf("%s.%d", base, i)
	}
	return version
}

func (mm *ModelManager) find(algo AlgorithmType, variant lottery.Variant, version string) int {
	for i, v := range mm.versions {
		if v.Algorithm == algo && v.Variant == variant && v.Version == version {
			return i
		}
	}
	return -1
}

// sortVersions orders the history newest first.
func (mm *ModelManager) sortVersions() {
	sort.SliceStable(mm.versions, func(i, j int) bool {
		return mm.versions[i].CreatedAt.After(mm.versions[j].CreatedAt)
	})
}

// Activate marks version as the active snapshot of algo for variant.
func (mm *ModelManager) Activate(algo AlgorithmType, variant lottery.Variant, version string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.activate(algo, variant, version)
}

func (mm *ModelManager) activate(algo AlgorithmType, variant lottery.Variant, version string) error {
	idx := mm.find(algo, variant, version)
	if idx < 0 {
		return lottery.NotFound("version %s of %s/%s", version, variant, algo)
	}
	for i := range mm.versions {
		if mm.versions[i].Algorithm == algo && mm.versions[i].Variant == variant {
			mm.versions[i].IsActive = i == idx
		}
	}
	return mm.saveVersions()
}

// Rollback activates the version saved just before the active one.
func (mm *ModelManager) Rollback(algo AlgorithmType, variant lottery.Variant) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	history := mm.history(algo, variant)
	if len(history) < 2 {
		return ModelVersion{}, lottery.NotFound("no previous version of %s/%s available for rollback", variant, algo)
	}
	current := -1
	for i, v := range history {
		if v.IsActive {
			current = i
			break
		}
	}
	if current == -1 {
		return ModelVersion{}, lottery.NotFound("no active version of %s/%s", variant, algo)
	}
	if current+1 >= len(history) {
		return ModelVersion{}, lottery.NotFound("no previous version of %s/%s available", variant, algo)
	}
	prev := history[current+1]
	if err := mm.activate(algo, variant, prev.Version); err != nil {
		return ModelVersion{}, err
	}
	prev.IsActive = true
	return prev, nil
}

// history returns the versions of algo for variant, newest first.
func (mm *ModelManager) history(algo AlgorithmType, variant lottery.Variant) []ModelVersion {
	var out []ModelVersion
	for _, v := range mm.versions {
		if v.Algorithm == algo && v.Variant == variant {
			out = append(out, v)
		}
	}
	return out
}

// Current returns the active version of algo for variant.
func (mm *ModelManager) Current(algo AlgorithmType, variant lottery.Variant) (ModelVersion, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, v := range mm.versions {
		if v.Algorithm == algo && v.Variant == variant && v.IsActive {
			return v, true
		}
	}
	return ModelVersion{}, false
}

// List returns the versions of algo for variant, newest first. An empty
// algo lists every algorithm of the variant.
func (mm *ModelManager) List(algo AlgorithmType, variant lottery.Variant) []ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if algo != "" {
		return mm.history(algo, variant)
	}
	var out []ModelVersion
	for _, v := range mm.versions {
		if v.Variant == variant {
			out = append(out, v)
		}
	}
	return out
}

// LoadActive restores the active snapshot of every algorithm for variant
// into the factory.
func (mm *ModelManager) LoadActive(f *AlgorithmFactory) ([]AlgorithmType, error) {
	var loaded []AlgorithmType
	for _, algo := range AllAlgorithms {
		v, ok := mm.Current(algo, f.Variant())
		if !ok {
			continue
		}
		m, err := f.CreateAlgorithm(string(algo), NewAlgorithmConfig(f.Variant()))
		if err != nil {
			return loaded, err
		}
		if err := m.LoadModel(v.Path); err != nil {
			return loaded, fmt.Errorf("load %s version %s: %w", algo, v.Version, err)
		}
		if err := f.RegisterModel(algo, m, v.Metrics, NewAlgorithmConfig(f.Variant())); err != nil {
			return loaded, err
		}
		loaded = append(loaded, algo)
	}
	return loaded, nil
}

func (mm *ModelManager) loadVersions() error {
	data, err := os.ReadFile(mm.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &mm.versions); err != nil {
		return err
	}
	mm.sortVersions()
	return nil
}

func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return lottery.WrapAlgorithm(err, "encode model versions")
	}
	if err := os.WriteFile(mm.versionsFile, data, 0o600); err != nil {
		return lottery.WrapAlgorithm(err, "write %s", mm.versionsFile)
	}
	return nil
}
