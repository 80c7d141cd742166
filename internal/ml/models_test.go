package ml

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"lottery-engine/internal/lottery"
)

func TestPredictBeforeTrain(t *testing.T) {
	input := predictionInput(lottery.SSQ, syntheticDrawings(lottery.SSQ, 20))
	for _, algo := range BaseAlgorithms {
		t.Run(string(algo), func(t *testing.T) {
			m, _ := newSmallModel(t, lottery.SSQ, algo)
			if m.IsTrained() {
				t.Fatal("new model reports trained")
			}
			_, err := m.Predict(input)
			if err == nil {
				t.Fatal("expected error predicting with an untrained model")
			}
			if !errors.Is(err, lottery.ErrAlgorithm) {
				t.Errorf("expected algorithm error, got %v", err)
			}
			if !strings.Contains(err.Error(), "not trained") {
				t.Errorf("expected 'not trained' in %q", err)
			}
		})
	}
}

func TestRandomForestScenario(t *testing.T) {
	data := &TrainingData{}
	for i := 0; i < 100; i++ {
		row := make([]float64, 33)
		for j := range row {
			row[j] = float64((i*j)%17) / 17
		}
		data.Features = append(data.Features, row)
		data.Targets = append(data.Targets, []int{1, 2, 3, 4, 5, 6})
	}

	cfg := NewAlgorithmConfig(lottery.SSQ).With("n_estimators", 10).With("max_depth", 5)
	rf := NewRandomForest(cfg)
	acc, err := rf.Train(data, cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if !rf.IsTrained() {
		t.Fatal("expected forest to be trained")
	}
	if acc != randomForestAccuracy {
		t.Errorf("expected accuracy %.2f, got %.2f", randomForestAccuracy, acc)
	}
	if got := rf.Params(); got.NEstimators != 10 || got.MaxDepth != 5 {
		t.Errorf("parameters not applied: %+v", got)
	}

	out, err := rf.Predict(predictionInput(lottery.SSQ, syntheticDrawings(lottery.SSQ, 60)))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(out.Numbers) != 6 {
		t.Fatalf("expected 6 numbers, got %v", out.Numbers)
	}
	checkOutput(t, lottery.SSQ, out)
	if len(rf.FeatureImportance()) != 0 {
		t.Errorf("expected empty feature importance, got %v", rf.FeatureImportance())
	}
}

func TestOutputInvariants(t *testing.T) {
	variants := []lottery.Variant{lottery.SSQ, lottery.DLT, lottery.FC3D, lottery.PL3, lottery.PL5}
	for _, v := range variants {
		data, draws := syntheticData(t, v, 90)
		input := predictionInput(v, draws)
		for _, algo := range BaseAlgorithms {
			t.Run(string(v)+"/"+string(algo), func(t *testing.T) {
				m, cfg := newSmallModel(t, v, algo)
				if _, err := m.Train(data, cfg); err != nil {
					t.Fatalf("Train failed: %v", err)
				}
				out, err := m.Predict(input)
				if err != nil {
					t.Fatalf("Predict failed: %v", err)
				}
				checkOutput(t, v, out)
				if out.Metadata["algorithm"] == nil && out.Metadata["method"] == nil {
					t.Errorf("expected algorithm metadata, got %v", out.Metadata)
				}
			})
		}
	}
}

func TestPredictIsDeterministic(t *testing.T) {
	data, draws := syntheticData(t, lottery.DLT, 80)
	input := predictionInput(lottery.DLT, draws)
	for _, algo := range BaseAlgorithms {
		t.Run(string(algo), func(t *testing.T) {
			m, cfg := newSmallModel(t, lottery.DLT, algo)
			if _, err := m.Train(data, cfg); err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			a, err := m.Predict(input)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			b, err := m.Predict(input)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			if !reflect.DeepEqual(a.Numbers, b.Numbers) || !reflect.DeepEqual(a.SpecialNumbers, b.SpecialNumbers) {
				t.Errorf("repeated predictions differ: %v/%v vs %v/%v", a.Numbers, a.SpecialNumbers, b.Numbers, b.SpecialNumbers)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	data, draws := syntheticData(t, lottery.SSQ, 80)
	input := predictionInput(lottery.SSQ, draws)
	dir := t.TempDir()

	for _, algo := range AllAlgorithms {
		t.Run(string(algo), func(t *testing.T) {
			m, cfg := newSmallModel(t, lottery.SSQ, algo)
			if _, err := m.Train(data, cfg); err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			want, err := m.Predict(input)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}

			path := filepath.Join(dir, string(algo), "model.json")
			if err := m.SaveModel(path); err != nil {
				t.Fatalf("SaveModel failed: %v", err)
			}
			if got, err := SnapshotAlgorithm(path); err != nil || got != algo {
				t.Errorf("SnapshotAlgorithm = %s, %v; want %s", got, err, algo)
			}

			fresh, err := newBaseModel(algo, NewAlgorithmConfig(lottery.SSQ))
			if err != nil {
				t.Fatalf("newBaseModel failed: %v", err)
			}
			if err := fresh.LoadModel(path); err != nil {
				t.Fatalf("LoadModel failed: %v", err)
			}
			if !fresh.IsTrained() {
				t.Fatal("loaded model is not trained")
			}
			got, err := fresh.Predict(input)
			if err != nil {
				t.Fatalf("Predict after load failed: %v", err)
			}
			if !reflect.DeepEqual(want.Numbers, got.Numbers) {
				t.Errorf("numbers differ after round trip: %v vs %v", want.Numbers, got.Numbers)
			}
			if !reflect.DeepEqual(want.SpecialNumbers, got.SpecialNumbers) {
				t.Errorf("specials differ after round trip: %v vs %v", want.SpecialNumbers, got.SpecialNumbers)
			}
			if !reflect.DeepEqual(want.Confidence, got.Confidence) {
				t.Errorf("confidence differs after round trip: %v vs %v", want.Confidence, got.Confidence)
			}
		})
	}
}

func TestLoadModelRejectsOtherAlgorithm(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 60)
	m, cfg := newSmallModel(t, lottery.SSQ, StatisticalType)
	if _, err := m.Train(data, cfg); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "stat.json")
	if err := m.SaveModel(path); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	err := NewRandomForest(NewAlgorithmConfig(lottery.SSQ)).LoadModel(path)
	if !errors.Is(err, lottery.ErrAlgorithm) {
		t.Errorf("expected algorithm error loading a statistical snapshot into a forest, got %v", err)
	}

	err = NewRandomForest(NewAlgorithmConfig(lottery.SSQ)).LoadModel(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, lottery.ErrAlgorithm) {
		t.Errorf("expected algorithm error for a missing file, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	data, draws := syntheticData(t, lottery.SSQ, 70)
	input := predictionInput(lottery.SSQ, draws)
	m, cfg := newSmallModel(t, lottery.SSQ, NeuralNetworkType)
	if _, err := m.Train(data, cfg); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	clone := m.Clone()
	before, _ := clone.Predict(input)

	retrain, _ := syntheticData(t, lottery.SSQ, 40)
	if _, err := m.Train(retrain, cfg.With("epochs", 1)); err != nil {
		t.Fatalf("retrain failed: %v", err)
	}
	after, _ := clone.Predict(input)
	if !reflect.DeepEqual(before.Numbers, after.Numbers) {
		t.Errorf("clone changed after retraining the original: %v vs %v", before.Numbers, after.Numbers)
	}
}

func TestInsufficientData(t *testing.T) {
	small, _ := syntheticData(t, lottery.SSQ, 18)
	tests := []struct {
		algo AlgorithmType
	}{
		{NeuralNetworkType},
		{LSTMType},
		{ARIMAType},
	}
	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			m, cfg := newSmallModel(t, lottery.SSQ, tt.algo)
			_, err := m.Train(small, cfg)
			if !errors.Is(err, lottery.ErrAlgorithm) {
				t.Fatalf("expected algorithm error on %d samples, got %v", small.Len(), err)
			}
			if m.IsTrained() {
				t.Error("model reports trained after failed training")
			}
		})
	}

	for _, algo := range BaseAlgorithms {
		m, cfg := newSmallModel(t, lottery.SSQ, algo)
		if _, err := m.Train(&TrainingData{}, cfg); !errors.Is(err, lottery.ErrInvalidParameter) {
			t.Errorf("%s: expected invalid parameter for empty data, got %v", algo, err)
		}
	}
}

func TestEvaluate(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 90)
	train, test := data.Split(0.8)
	for _, algo := range BaseAlgorithms {
		t.Run(string(algo), func(t *testing.T) {
			m, cfg := newSmallModel(t, lottery.SSQ, algo)
			if _, err := m.Evaluate(test); err == nil {
				t.Error("expected error evaluating an untrained model")
			}
			if _, err := m.Train(train, cfg); err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			metrics, err := m.Evaluate(test)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if metrics.Accuracy < 0 || metrics.Accuracy > 1 {
				t.Errorf("accuracy %.3f outside [0, 1]", metrics.Accuracy)
			}
		})
	}
}
