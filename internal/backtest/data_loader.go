package backtest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog/log"
)

// csvDateLayouts are tried in order when parsing draw_date.
var csvDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// DataLoader handles loading and serving historical drawings for one variant
type DataLoader struct {
	variant   lottery.Variant
	data      []lottery.Drawing
	index     int
	skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// NewDataLoader creates a new data loader for v
func NewDataLoader(v lottery.Variant) *DataLoader {
	return &DataLoader{
		variant: v,
		data:    make([]lottery.Drawing, 0),
	}
}

// Variant is the lottery served by the loader.
func (dl *DataLoader) Variant() lottery.Variant { return dl.variant }

// LoadFromBoltDB loads drawings from storage. A zero start or end leaves that
// side of the range open.
func (dl *DataLoader) LoadFromBoltDB(store *storage.Store, startTime, endTime time.Time) error {
	log.Info().
		Str("variant", string(dl.variant)).
		Time("start", startTime).
		Time("end", endTime).
		Msg("Loading drawings from BoltDB")

	var (
		draws []lottery.Drawing
		err   error
	)
	if startTime.IsZero() && endTime.IsZero() {
		draws, err = store.AllDrawings(dl.variant)
	} else {
		if endTime.IsZero() {
			endTime = time.Now().UTC()
		}
		draws, err = store.GetDrawings(dl.variant, startTime, endTime)
	}
	if err != nil {
		return fmt.Errorf("failed to load drawings for %s: %w", dl.variant, err)
	}
	for _, d := range draws {
		dl.add(d)
	}
	dl.finish("bolt")
	return nil
}

// LoadFromCSV loads drawings from a file with the columns
// draw_number,draw_date,numbers,special_numbers. Number lists are separated
// by spaces or dashes and special_numbers may be empty or absent.
func (dl *DataLoader) LoadFromCSV(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int)
	for i, col := range header {
		indices[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range []string{"draw_number", "draw_date", "numbers"} {
		if _, ok := indices[col]; !ok {
			return lottery.InvalidParameter("CSV file %s is missing the %s column", filePath, col)
		}
	}
	field := func(record []string, col string) string {
		i, ok := indices[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		date, err := parseDate(field(record, "draw_date"))
		if err != nil {
			dl.skipped++
			log.Debug().Int("line", line).Err(err).Msg("Skipping CSV row")
			continue
		}
		numbers, err := parseNumbers(field(record, "numbers"))
		if err != nil {
			dl.skipped++
			log.Debug().Int("line", line).Err(err).Msg("Skipping CSV row")
			continue
		}
		specials, err := parseNumbers(field(record, "special_numbers"))
		if err != nil {
			dl.skipped++
			log.Debug().Int("line", line).Err(err).Msg("Skipping CSV row")
			continue
		}

		dl.add(lottery.Drawing{
			Variant:        dl.variant,
			DrawNumber:     field(record, "draw_number"),
			DrawDate:       date,
			Numbers:        numbers,
			SpecialNumbers: specials,
			Source:         "csv",
			CreatedAt:      date,
		})
	}

	dl.finish("csv")
	return nil
}

// LoadFromJSON loads drawings from either a JSON array or a stream of
// drawing objects. Drawings without a lottery type take the loader's variant
// and drawings of another variant are skipped.
func (dl *DataLoader) LoadFromJSON(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	first, err := peekNonSpace(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			dl.finish("json")
			return nil
		}
		return fmt.Errorf("failed to read JSON file: %w", err)
	}

	decoder := json.NewDecoder(reader)
	if first == '[' {
		if _, err := decoder.Token(); err != nil {
			return fmt.Errorf("failed to read JSON array: %w", err)
		}
	}
	for decoder.More() {
		var d lottery.Drawing
		if err := decoder.Decode(&d); err != nil {
			return fmt.Errorf("failed to decode drawing: %w", err)
		}
		if d.Variant == "" {
			d.Variant = dl.variant
		}
		if d.Variant != dl.variant {
			dl.skipped++
			continue
		}
		if d.Source == "" {
			d.Source = "json"
		}
		dl.add(d)
	}

	dl.finish("json")
	return nil
}

// Load dispatches on format: "bolt", "csv" or "json". The bolt format needs a
// store, the others a file path.
func (dl *DataLoader) Load(format, path string, store *storage.Store) error {
	switch strings.ToLower(format) {
	case "bolt", "boltdb":
		if store == nil {
			return lottery.InvalidParameter("bolt format requires an open store")
		}
		return dl.LoadFromBoltDB(store, time.Time{}, time.Time{})
	case "csv":
		return dl.LoadFromCSV(path)
	case "json":
		return dl.LoadFromJSON(path)
	default:
		return lottery.InvalidParameter("unsupported data format %q", format)
	}
}

// add keeps d when it validates; the variant is forced to the loader's.
func (dl *DataLoader) add(d lottery.Drawing) {
	d.Variant = dl.variant
	if err := d.Validate(); err != nil {
		dl.skipped++
		log.Debug().Err(err).Msg("Skipping invalid drawing")
		return
	}
	dl.data = append(dl.data, d)
}

func (dl *DataLoader) finish(source string) {
	sort.SliceStable(dl.data, func(i, j int) bool {
		return dl.data[i].DrawDate.Before(dl.data[j].DrawDate)
	})

	if len(dl.data) > 0 {
		dl.StartTime = dl.data[0].DrawDate
		dl.EndTime = dl.data[len(dl.data)-1].DrawDate
	}

	log.Info().
		Str("source", source).
		Str("variant", string(dl.variant)).
		Int("total_drawings", len(dl.data)).
		Int("skipped", dl.skipped).
		Time("data_start", dl.StartTime).
		Time("data_end", dl.EndTime).
		Msg("Data loaded successfully")
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised draw date %q", s)
}

// parseNumbers splits on spaces, dashes, commas and semicolons.
func parseNumbers(s string) ([]int, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == ',' || r == ';' || r == '\t'
	})
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, r.UnreadByte()
	}
}

// Reset resets the data iterator
func (dl *DataLoader) Reset() {
	dl.index = 0
}

// HasNext returns true if there are more drawings
func (dl *DataLoader) HasNext() bool {
	return dl.index < len(dl.data)
}

// Next returns the next drawing
func (dl *DataLoader) Next() (lottery.Drawing, bool) {
	if !dl.HasNext() {
		return lottery.Drawing{}, false
	}
	d := dl.data[dl.index]
	dl.index++
	return d, true
}

// Drawings returns the loaded drawings, oldest first
func (dl *DataLoader) Drawings() []lottery.Drawing {
	return dl.data
}

// GetDataCount returns the total number of drawings
func (dl *DataLoader) GetDataCount() int {
	return len(dl.data)
}

// Skipped returns how many rows or records were rejected
func (dl *DataLoader) Skipped() int {
	return dl.skipped
}

// GetProgress returns the current iterator progress as a percentage
func (dl *DataLoader) GetProgress() float64 {
	if len(dl.data) == 0 {
		return 0
	}
	return float64(dl.index) / float64(len(dl.data)) * 100
}
