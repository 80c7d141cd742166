// Package api is the command layer of the engine: per-variant model
// registries bound to storage and metrics, exposed over HTTP with a
// websocket event stream.
package api

import (
	"fmt"
	"path/filepath"
	"sync"

	"lottery-engine/internal/cfg"
	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/metrics"
	"lottery-engine/internal/ml"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog/log"
)

// variantState holds the registries of one lottery variant. mu serializes
// training against prediction and comparison.
type variantState struct {
	mu            sync.RWMutex
	factory       *ml.AlgorithmFactory
	trainer       *ml.ModelTrainer
	drift         *ml.DriftDetector
	trainingTimes map[ml.AlgorithmType]int64
}

// AppState binds the per-variant registries to storage, metrics and the
// model version manager.
type AppState struct {
	settings   *cfg.Settings
	store      *storage.Store
	metrics    *metrics.MetricsWrapper
	manager    *ml.ModelManager
	hub        *EventHub
	featureCfg features.Config
	extractor  *features.Extractor

	mu       sync.RWMutex
	variants map[lottery.Variant]*variantState
}

// NewAppState builds registries for every configured variant and restores
// the active model versions from the models directory.
func NewAppState(settings *cfg.Settings, store *storage.Store, mw *metrics.MetricsWrapper, hub *EventHub) (*AppState, error) {
	manager, err := ml.NewModelManager(settings.ModelsDir)
	if err != nil {
		return nil, err
	}

	fc := features.DefaultConfig()
	fc.WindowSize = settings.WindowSize

	s := &AppState{
		settings:   settings,
		store:      store,
		metrics:    mw,
		manager:    manager,
		hub:        hub,
		featureCfg: fc,
		extractor:  features.NewExtractor(),
		variants:   make(map[lottery.Variant]*variantState, len(settings.Variants)),
	}

	for _, v := range settings.Variants {
		vs := &variantState{
			factory: ml.NewAlgorithmFactory(v, mw),
			trainer: ml.NewModelTrainer(v, mw),
			drift: ml.NewDriftDetector(ml.DriftConfig{
				SavePath:       filepath.Join(settings.ModelsDir, string(v), "drift_baseline.json"),
				AlertThreshold: settings.DriftThreshold,
			}),
			trainingTimes: make(map[ml.AlgorithmType]int64),
		}
		vs.trainer.SetDriftDetector(vs.drift)

		loaded, err := manager.LoadActive(vs.factory)
		if err != nil {
			log.Warn().Err(err).Str("variant", string(v)).Msg("Failed to restore some model versions")
		}
		if len(loaded) > 0 {
			log.Info().Str("variant", string(v)).Int("models", len(loaded)).Msg("Restored active model versions")
		}
		s.variants[v] = vs
	}
	return s, nil
}

// Settings returns the settings the state was built with.
func (s *AppState) Settings() *cfg.Settings { return s.settings }

// Variants returns the served variants in configuration order.
func (s *AppState) Variants() []lottery.Variant {
	return append([]lottery.Variant(nil), s.settings.Variants...)
}

func (s *AppState) variant(v lottery.Variant) (*variantState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.variants[v]
	if !ok {
		return nil, lottery.InvalidParameter("lottery type %q not supported", v)
	}
	return vs, nil
}

func (s *AppState) algorithmList(names []string, def []string) ([]ml.AlgorithmType, error) {
	if len(names) == 0 {
		names = def
	}
	out := make([]ml.AlgorithmType, 0, len(names))
	for _, n := range names {
		algo, err := ml.ParseAlgorithm(n)
		if err != nil {
			return nil, err
		}
		out = append(out, algo)
	}
	if len(out) == 0 {
		return nil, lottery.InvalidParameter("no algorithms requested")
	}
	return out, nil
}

// history loads the newest days drawings, failing with NotFound when the
// store has none for v.
func (s *AppState) history(v lottery.Variant, days int) ([]lottery.Drawing, error) {
	if days <= 0 {
		days = s.settings.HistoricalDays
	}
	draws, err := s.store.RecentDrawings(v, days)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", v, err)
	}
	if len(draws) == 0 {
		return nil, lottery.NotFound("no drawings stored for %s", v)
	}
	return draws, nil
}
