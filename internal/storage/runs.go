package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"lottery-engine/internal/lottery"
)

// TrainingRun records one training request and its per-algorithm outcome.
type TrainingRun struct {
	ID              string             `json:"id"`
	Variant         lottery.Variant    `json:"lottery_type"`
	StartedAt       time.Time          `json:"started_at"`
	DurationMs      int64              `json:"duration_ms"`
	Samples         int                `json:"training_samples"`
	ValidationSplit float64            `json:"validation_split"`
	Results         map[string]float64 `json:"results"`
	Failures        map[string]string  `json:"failures,omitempty"`
}

// PredictionRecord is a prediction issued through the API, kept so it can
// be scored once the target drawing is known.
type PredictionRecord struct {
	ID             string          `json:"id"`
	Variant        lottery.Variant `json:"lottery_type"`
	Algorithm      string          `json:"algorithm"`
	Numbers        []int           `json:"numbers"`
	SpecialNumbers []int           `json:"special_numbers,omitempty"`
	Confidence     []float64       `json:"confidence"`
	TargetDate     time.Time       `json:"target_date"`
	CreatedAt      time.Time       `json:"created_at"`
}

func recordKey(v lottery.Variant, at time.Time, id string) []byte {
	return []byte(timeKey(v, at) + "_" + id)
}

// StoreTrainingRun stores run, assigning an ID and start time when missing.
func (s *Store) StoreTrainingRun(run *TrainingRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	return s.put(trainingRunsBucket, recordKey(run.Variant, run.StartedAt, run.ID), run)
}

// ListTrainingRuns returns the training runs of v, oldest first.
func (s *Store) ListTrainingRuns(v lottery.Variant) ([]TrainingRun, error) {
	var runs []TrainingRun
	err := s.scan(trainingRunsBucket, v, func(data []byte) {
		var run TrainingRun
		if json.Unmarshal(data, &run) == nil {
			runs = append(runs, run)
		}
	})
	return runs, err
}

// StorePrediction stores rec, assigning an ID and creation time when missing.
func (s *Store) StorePrediction(rec *PredictionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.put(predictionsBucket, recordKey(rec.Variant, rec.CreatedAt, rec.ID), rec)
}

// ListPredictions returns the latest n predictions of v, oldest first.
// n <= 0 returns all of them.
func (s *Store) ListPredictions(v lottery.Variant, n int) ([]PredictionRecord, error) {
	var recs []PredictionRecord
	err := s.scan(predictionsBucket, v, func(data []byte) {
		var rec PredictionRecord
		if json.Unmarshal(data, &rec) == nil {
			recs = append(recs, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

func (s *Store) put(bucket string, key []byte, value any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put(key, data)
	})
}

func (s *Store) scan(bucket string, v lottery.Variant, fn func([]byte)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		prefix := drawingPrefix(v)
		for k, val := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, val = c.Next() {
			fn(val)
		}
		return nil
	})
}
