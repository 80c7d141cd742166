package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested")

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "lottery-data.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	// A regular file cannot be used as the data directory.
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New(filepath.Join(file, "data"))
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStoreDrawings_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	draws := lottery.NewGenerator(1).Generate(lottery.SSQ, 20, testStart)

	if err := store.StoreDrawings(draws); err != nil {
		t.Fatalf("StoreDrawings failed: %v", err)
	}

	got, err := store.AllDrawings(lottery.SSQ)
	if err != nil {
		t.Fatalf("AllDrawings failed: %v", err)
	}
	if len(got) != len(draws) {
		t.Fatalf("Expected %d drawings, got %d", len(draws), len(got))
	}
	for i := range draws {
		if got[i].DrawNumber != draws[i].DrawNumber {
			t.Errorf("Drawing %d: expected %s, got %s", i, draws[i].DrawNumber, got[i].DrawNumber)
		}
		if !got[i].DrawDate.Equal(draws[i].DrawDate) {
			t.Errorf("Drawing %d: date %v, want %v", i, got[i].DrawDate, draws[i].DrawDate)
		}
	}

	// Re-storing the same drawings does not duplicate them.
	if err := store.StoreDrawings(draws[:5]); err != nil {
		t.Fatalf("StoreDrawings failed: %v", err)
	}
	if n, _ := store.CountDrawings(lottery.SSQ); n != 20 {
		t.Errorf("Expected 20 drawings after re-store, got %d", n)
	}
}

func TestStoreDrawing_Invalid(t *testing.T) {
	store := newTestStore(t)
	valid := lottery.NewGenerator(1).Generate(lottery.SSQ, 2, testStart)
	bad := valid[1]
	bad.Numbers = []int{1, 2, 3, 4, 5, 40}

	err := store.StoreDrawings([]lottery.Drawing{valid[0], bad})
	if !errors.Is(err, lottery.ErrInvalidParameter) {
		t.Fatalf("Expected invalid parameter error, got %v", err)
	}
	if n, _ := store.CountDrawings(lottery.SSQ); n != 0 {
		t.Errorf("Expected nothing stored after a rejected batch, got %d", n)
	}
}

func TestGetDrawings_Range(t *testing.T) {
	store := newTestStore(t)
	if err := store.StoreDrawings(lottery.NewGenerator(2).Generate(lottery.DLT, 30, testStart)); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreDrawings(lottery.NewGenerator(3).Generate(lottery.SSQ, 30, testStart)); err != nil {
		t.Fatal(err)
	}

	start := testStart.AddDate(0, 0, 5)
	end := testStart.AddDate(0, 0, 14)
	got, err := store.GetDrawings(lottery.DLT, start, end)
	if err != nil {
		t.Fatalf("GetDrawings failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Expected 10 drawings in range, got %d", len(got))
	}
	for _, d := range got {
		if d.Variant != lottery.DLT {
			t.Errorf("Got drawing of variant %s", d.Variant)
		}
		if d.DrawDate.Before(start) || d.DrawDate.After(end) {
			t.Errorf("Drawing dated %v outside range", d.DrawDate)
		}
	}

	empty, err := store.GetDrawings(lottery.PL3, start, end)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no pl3 drawings, got %d, %v", len(empty), err)
	}
}

func TestRecentDrawings(t *testing.T) {
	store := newTestStore(t)
	ssq := lottery.NewGenerator(4).Generate(lottery.SSQ, 25, testStart)
	if err := store.StoreDrawings(ssq); err != nil {
		t.Fatal(err)
	}
	// Drawings of a variant sorting before ssq must not leak into either cursor.
	if err := store.StoreDrawings(lottery.NewGenerator(5).Generate(lottery.Custom, 5, testStart)); err != nil {
		t.Fatal(err)
	}

	got, err := store.RecentDrawings(lottery.SSQ, 10)
	if err != nil {
		t.Fatalf("RecentDrawings failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Expected 10 drawings, got %d", len(got))
	}
	for i, d := range got {
		if want := ssq[15+i].DrawNumber; d.DrawNumber != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, d.DrawNumber)
		}
	}

	custom, err := store.RecentDrawings(lottery.Custom, 100)
	if err != nil || len(custom) != 5 {
		t.Errorf("Expected 5 custom drawings, got %d, %v", len(custom), err)
	}
	none, err := store.RecentDrawings(lottery.FC3D, 5)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no fc3d drawings, got %d, %v", len(none), err)
	}
}

func TestModelInfo(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetModelInfo(lottery.SSQ, ml.RandomForestType)
	if !errors.Is(err, lottery.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	infos := []ml.ModelInfo{
		{Algorithm: ml.RandomForestType, Variant: lottery.SSQ, Metrics: ml.EvaluationMetrics{Accuracy: 0.7}},
		{Algorithm: ml.StatisticalType, Variant: lottery.SSQ, Metrics: ml.EvaluationMetrics{Accuracy: 0.6}},
		{Algorithm: ml.StatisticalType, Variant: lottery.DLT, Metrics: ml.EvaluationMetrics{Accuracy: 0.5}},
	}
	for _, info := range infos {
		if err := store.StoreModelInfo(info); err != nil {
			t.Fatalf("StoreModelInfo failed: %v", err)
		}
	}

	got, err := store.GetModelInfo(lottery.SSQ, ml.RandomForestType)
	if err != nil {
		t.Fatalf("GetModelInfo failed: %v", err)
	}
	if got.Metrics.Accuracy != 0.7 {
		t.Errorf("Expected accuracy 0.7, got %f", got.Metrics.Accuracy)
	}

	list, err := store.ListModelInfo(lottery.SSQ)
	if err != nil {
		t.Fatalf("ListModelInfo failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 ssq model records, got %d", len(list))
	}
}

func TestTrainingRuns(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		run := &TrainingRun{
			Variant:   lottery.SSQ,
			StartedAt: testStart.Add(time.Duration(i) * time.Hour),
			Results:   map[string]float64{"random_forest": 0.85},
		}
		if err := store.StoreTrainingRun(run); err != nil {
			t.Fatalf("StoreTrainingRun failed: %v", err)
		}
		if run.ID == "" {
			t.Error("Expected an assigned run ID")
		}
	}
	if err := store.StoreTrainingRun(&TrainingRun{Variant: lottery.DLT}); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListTrainingRuns(lottery.SSQ)
	if err != nil {
		t.Fatalf("ListTrainingRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.Before(runs[2].StartedAt) {
		t.Error("Expected runs oldest first")
	}
}

func TestPredictions(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		rec := &PredictionRecord{
			Variant:   lottery.PL3,
			Algorithm: "statistical",
			Numbers:   []int{1, 2, i + 3},
			CreatedAt: testStart.Add(time.Duration(i) * time.Minute),
		}
		if err := store.StorePrediction(rec); err != nil {
			t.Fatalf("StorePrediction failed: %v", err)
		}
	}

	recs, err := store.ListPredictions(lottery.PL3, 2)
	if err != nil {
		t.Fatalf("ListPredictions failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(recs))
	}
	if recs[1].Numbers[2] != 7 {
		t.Errorf("Expected the latest prediction last, got %v", recs[1].Numbers)
	}
}

func TestKeyTime(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got, ok := keyTime([]byte(timeKey(lottery.SSQ, at) + "_2025001"))
	if !ok || !got.Equal(at) {
		t.Errorf("keyTime = %v, %v; want %v", got, ok, at)
	}
	if _, ok := keyTime([]byte("garbage")); ok {
		t.Error("Expected keyTime to reject a key without a timestamp")
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := newTestStore(t)
	draws := lottery.NewGenerator(6).Generate(lottery.SSQ, 100, testStart)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for _, d := range draws[w*10 : (w+1)*10] {
				if err := store.StoreDrawing(d); err != nil {
					errs <- err
					return
				}
			}
			if _, err := store.RecentDrawings(lottery.SSQ, 5); err != nil {
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent access failed: %v", err)
	}

	if n, _ := store.CountDrawings(lottery.SSQ); n != 100 {
		t.Errorf("Expected 100 drawings, got %d", n)
	}
}

func BenchmarkStoreDrawing(b *testing.B) {
	store, err := New(b.TempDir())
	if err != nil {
		b.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	draws := lottery.NewGenerator(7).Generate(lottery.SSQ, b.N, testStart)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.StoreDrawing(draws[i])
	}
}
