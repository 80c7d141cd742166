package backtest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromCSV(t *testing.T) {
	path := writeFile(t, "ssq.csv", strings.Join([]string{
		"draw_number,draw_date,numbers,special_numbers",
		"2023003,2023-01-03,02-07-11-19-24-30,05",
		"2023001,2023-01-01,01 05 12 20 28 33,07",
		"2023002,2023-01-02,3 4 5 6 7,09",
		"2023004,not-a-date,01 02 03 04 05 06,01",
		"2023005,2023-01-05,01 02 03 04 05 x,01",
		"2023006,2023-01-06T00:00:00Z,08 09 10 11 12 13,16",
	}, "\n"))

	dl := NewDataLoader(lottery.SSQ)
	require.NoError(t, dl.LoadFromCSV(path))

	draws := dl.Drawings()
	require.Len(t, draws, 3)
	assert.Equal(t, 3, dl.Skipped())
	assert.Equal(t, "2023001", draws[0].DrawNumber)
	assert.Equal(t, "2023003", draws[1].DrawNumber)
	assert.Equal(t, []int{2, 7, 11, 19, 24, 30}, draws[1].Numbers)
	assert.Equal(t, []int{7}, draws[0].SpecialNumbers)
	assert.Equal(t, "csv", draws[0].Source)
	assert.Equal(t, lottery.SSQ, draws[2].Variant)
	assert.True(t, dl.StartTime.Equal(testStart))
	assert.True(t, dl.EndTime.Equal(testStart.AddDate(0, 0, 5)))
}

func TestLoadFromCSVDigitGame(t *testing.T) {
	path := writeFile(t, "pl3.csv", "draw_number,draw_date,numbers\n2023001,2023-01-01,1 4 7\n")
	dl := NewDataLoader(lottery.PL3)
	require.NoError(t, dl.LoadFromCSV(path))
	if assert.Equal(t, 1, dl.GetDataCount()) {
		assert.Empty(t, dl.Drawings()[0].SpecialNumbers)
	}
}

func TestLoadFromCSVErrors(t *testing.T) {
	dl := NewDataLoader(lottery.SSQ)
	err := dl.LoadFromCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	path := writeFile(t, "bad.csv", "draw_number,numbers\n1,01 02 03 04 05 06\n")
	err = dl.LoadFromCSV(path)
	assert.True(t, errors.Is(err, lottery.ErrInvalidParameter), "got %v", err)
}

func TestLoadFromJSON(t *testing.T) {
	draws := lottery.NewGenerator(1).Generate(lottery.DLT, 4, testStart)
	other := lottery.NewGenerator(1).Generate(lottery.SSQ, 1, testStart)

	array, err := json.Marshal(append([]lottery.Drawing{draws[3], draws[1]}, other...))
	require.NoError(t, err)

	var stream strings.Builder
	for _, d := range []lottery.Drawing{draws[2], draws[0]} {
		b, err := json.Marshal(d)
		require.NoError(t, err)
		stream.Write(b)
		stream.WriteString("\n")
	}

	tests := []struct {
		name    string
		content string
		want    []string
		skipped int
	}{
		{"array", "  " + string(array), []string{draws[1].DrawNumber, draws[3].DrawNumber}, 1},
		{"stream", stream.String(), []string{draws[0].DrawNumber, draws[2].DrawNumber}, 0},
		{"empty", "", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dl := NewDataLoader(lottery.DLT)
			require.NoError(t, dl.LoadFromJSON(writeFile(t, "draws.json", tt.content)))
			var got []string
			for _, d := range dl.Drawings() {
				got = append(got, d.DrawNumber)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.skipped, dl.Skipped())
		})
	}

	dl := NewDataLoader(lottery.DLT)
	assert.Error(t, dl.LoadFromJSON(writeFile(t, "broken.json", `{"draw_number": `)))
}

func TestLoadFromBoltDB(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	draws := lottery.NewGenerator(5).Generate(lottery.SSQ, 10, testStart)
	require.NoError(t, store.StoreDrawings(draws))

	all := NewDataLoader(lottery.SSQ)
	require.NoError(t, all.Load("bolt", "", store))
	assert.Equal(t, 10, all.GetDataCount())

	ranged := NewDataLoader(lottery.SSQ)
	require.NoError(t, ranged.LoadFromBoltDB(store, testStart.AddDate(0, 0, 2), testStart.AddDate(0, 0, 4)))
	assert.Equal(t, 3, ranged.GetDataCount())
	assert.Equal(t, draws[2].DrawNumber, ranged.Drawings()[0].DrawNumber)

	none := NewDataLoader(lottery.DLT)
	require.NoError(t, none.LoadFromBoltDB(store, time.Time{}, time.Time{}))
	assert.Zero(t, none.GetDataCount())
}

func TestLoadDispatch(t *testing.T) {
	dl := NewDataLoader(lottery.SSQ)
	assert.True(t, errors.Is(dl.Load("parquet", "x", nil), lottery.ErrInvalidParameter))
	assert.True(t, errors.Is(dl.Load("bolt", "", nil), lottery.ErrInvalidParameter))
}

func TestIterator(t *testing.T) {
	dl := NewDataLoader(lottery.SSQ)
	for _, d := range lottery.NewGenerator(2).Generate(lottery.SSQ, 4, testStart) {
		dl.add(d)
	}
	dl.finish("test")

	assert.Zero(t, dl.GetProgress())
	count := 0
	for dl.HasNext() {
		_, ok := dl.Next()
		require.True(t, ok)
		count++
	}
	assert.Equal(t, 4, count)
	assert.Equal(t, 100.0, dl.GetProgress())
	_, ok := dl.Next()
	assert.False(t, ok)

	dl.Reset()
	assert.True(t, dl.HasNext())
}
