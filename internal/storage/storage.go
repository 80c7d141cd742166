// Package storage provides persistent data storage for the lottery engine.
// It uses BoltDB as the underlying storage engine to store historical
// drawings, trained model records, training runs and issued predictions.
//
// Drawing keys are "variant_<zero padded unix nanos>_<draw number>" so a
// cursor walks one variant's drawings in draw date order.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"
)

const (
	drawingsBucket     = "drawings"      // Historical drawings
	modelsBucket       = "models"        // Latest ModelInfo per variant and algorithm
	trainingRunsBucket = "training_runs" // One record per training request
	predictionsBucket  = "predictions"   // Issued predictions

	dbFile = "lottery-data.db"
)

var buckets = []string{drawingsBucket, modelsBucket, trainingRunsBucket, predictionsBucket}

// Store provides persistent storage for engine data using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New creates the data directory if needed, opens the database in it and
// creates the buckets.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func drawingPrefix(v lottery.Variant) []byte {
	return []byte(string(v) + "_")
}

func timeKey(v lottery.Variant, t time.Time) string {
	nanos := t.UnixNano()
	if nanos < 0 {
		nanos = 0
	}
	return fmt.Sprintf("%s_%020d", v, nanos)
}

func drawingKey(d lottery.Drawing) []byte {
	return []byte(timeKey(d.Variant, d.DrawDate) + "_" + d.DrawNumber)
}

// keyTime decodes the timestamp part of a drawing or run key.
func keyTime(k []byte) (time.Time, bool) {
	parts := strings.SplitN(string(k), "_", 3)
	if len(parts) < 2 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

// StoreDrawing validates and stores one drawing. A drawing with the same
// variant, date and draw number replaces the stored one.
func (s *Store) StoreDrawing(d lottery.Drawing) error {
	return s.StoreDrawings([]lottery.Drawing{d})
}

// StoreDrawings validates every drawing and stores them in one transaction.
// Nothing is written if any drawing is invalid.
func (s *Store) StoreDrawings(draws []lottery.Drawing) error {
	for i, d := range draws {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("drawing %d (%s): %w", i, d.DrawNumber, err)
		}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(drawingsBucket))
		for _, d := range draws {
			if d.CreatedAt.IsZero() {
				d.CreatedAt = time.Now().UTC()
			}
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal drawing: %w", err)
			}
			if err := b.Put(drawingKey(d), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDrawings returns the drawings of v dated within [start, end], oldest
// first.
func (s *Store) GetDrawings(v lottery.Variant, start, end time.Time) ([]lottery.Drawing, error) {
	var draws []lottery.Drawing

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(drawingsBucket)).Cursor()
		prefix := drawingPrefix(v)

		for k, val := c.Seek([]byte(timeKey(v, start))); k != nil && bytes.HasPrefix(k, prefix); k, val = c.Next() {
			ts, ok := keyTime(k)
			if !ok {
				continue
			}
			if ts.After(end) {
				break
			}
			var d lottery.Drawing
			if err := json.Unmarshal(val, &d); err != nil {
				continue // Skip malformed records
			}
			draws = append(draws, d)
		}
		return nil
	})

	return draws, err
}

// AllDrawings returns every stored drawing of v, oldest first.
func (s *Store) AllDrawings(v lottery.Variant) ([]lottery.Drawing, error) {
	return s.RecentDrawings(v, 0)
}

// RecentDrawings returns the latest n drawings of v, oldest first. n <= 0
// returns all of them.
func (s *Store) RecentDrawings(v lottery.Variant, n int) ([]lottery.Drawing, error) {
	var draws []lottery.Drawing

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(drawingsBucket)).Cursor()
		prefix := drawingPrefix(v)

		// Position on the last key of the variant and walk backwards.
		k, val := c.Seek(append(append([]byte(nil), prefix...), 0xff))
		if k == nil {
			k, val = c.Last()
		} else {
			k, val = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, val = c.Prev() {
			if n > 0 && len(draws) >= n {
				break
			}
			var d lottery.Drawing
			if err := json.Unmarshal(val, &d); err != nil {
				continue
			}
			draws = append(draws, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(draws)-1; i < j; i, j = i+1, j-1 {
		draws[i], draws[j] = draws[j], draws[i]
	}
	return draws, nil
}

// CountDrawings returns the number of stored drawings of v.
func (s *Store) CountDrawings(v lottery.Variant) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(drawingsBucket)).Cursor()
		prefix := drawingPrefix(v)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func modelKey(v lottery.Variant, algo ml.AlgorithmType) []byte {
	return []byte(string(v) + "_" + string(algo))
}

// StoreModelInfo records the latest registration of a trained model.
func (s *Store) StoreModelInfo(info ml.ModelInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal model info: %w", err)
		}
		return tx.Bucket([]byte(modelsBucket)).Put(modelKey(info.Variant, info.Algorithm), data)
	})
}

// GetModelInfo returns the stored record of algo for v.
func (s *Store) GetModelInfo(v lottery.Variant, algo ml.AlgorithmType) (ml.ModelInfo, error) {
	var info ml.ModelInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(modelsBucket)).Get(modelKey(v, algo))
		if data == nil {
			return lottery.NotFound("no model record for %s/%s", v, algo)
		}
		return json.Unmarshal(data, &info)
	})
	return info, err
}

// ListModelInfo returns every stored model record of v in key order.
func (s *Store) ListModelInfo(v lottery.Variant) ([]ml.ModelInfo, error) {
	var infos []ml.ModelInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(modelsBucket)).Cursor()
		prefix := drawingPrefix(v)
		for k, val := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, val = c.Next() {
			var info ml.ModelInfo
			if err := json.Unmarshal(val, &info); err != nil {
				continue
			}
			infos = append(infos, info)
		}
		return nil
	})
	return infos, err
}
