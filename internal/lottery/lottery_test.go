package lottery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantTable(t *testing.T) {
	tests := []struct {
		variant      Variant
		max, special int
		main, extra  int
	}{
		{SSQ, 33, 16, 6, 1},
		{DLT, 35, 12, 5, 2},
		{FC3D, 9, 0, 3, 0},
		{PL3, 9, 0, 3, 0},
		{PL5, 9, 0, 5, 0},
		{Custom, 49, 16, 6, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			assert.Equal(t, tt.max, tt.variant.MaxNumber())
			assert.Equal(t, tt.special, tt.variant.SpecialMax())
			assert.Equal(t, tt.main, tt.variant.MainCount())
			assert.Equal(t, tt.extra, tt.variant.SpecialCount())
			assert.Equal(t, tt.extra > 0, tt.variant.HasSpecial())
		})
	}
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant(" SSQ ")
	require.NoError(t, err)
	assert.Equal(t, SSQ, v)

	_, err = ParseVariant("keno")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.False(t, errors.Is(err, ErrAlgorithm))

	vs, err := ParseVariants([]string{"dlt", "pl5"})
	require.NoError(t, err)
	assert.Equal(t, []Variant{DLT, PL5}, vs)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapAlgorithm(cause, "save model %s", "lstm")

	assert.True(t, errors.Is(err, ErrAlgorithm))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindAlgorithm, KindOf(err))
	assert.Contains(t, err.Error(), "save model lstm")
	assert.Contains(t, err.Error(), "disk full")

	wrapped := fmt.Errorf("train: %w", NotFound("model %s", "arima"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Nil(t, WrapAlgorithm(nil, "noop"))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestDrawingValidate(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := Drawing{Variant: SSQ, DrawNumber: "2024001", DrawDate: date, Numbers: []int{1, 5, 9, 12, 20, 33}, SpecialNumbers: []int{7}}
	require.NoError(t, valid.Validate())
	assert.Equal(t, 80, valid.Sum())

	tests := []struct {
		name   string
		mutate func(d *Drawing)
	}{
		{"out of range", func(d *Drawing) { d.Numbers = []int{1, 5, 9, 12, 20, 34} }},
		{"duplicate", func(d *Drawing) { d.Numbers = []int{1, 1, 9, 12, 20, 33} }},
		{"wrong count", func(d *Drawing) { d.Numbers = []int{1, 5, 9} }},
		{"missing special", func(d *Drawing) { d.SpecialNumbers = nil }},
		{"special out of range", func(d *Drawing) { d.SpecialNumbers = []int{17} }},
		{"zero date", func(d *Drawing) { d.DrawDate = time.Time{} }},
		{"unknown variant", func(d *Drawing) { d.Variant = "keno" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			d.Numbers = append([]int(nil), valid.Numbers...)
			d.SpecialNumbers = append([]int(nil), valid.SpecialNumbers...)
			tt.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameter))
		})
	}
}

func TestGenerator(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, v := range AllVariants() {
		t.Run(string(v), func(t *testing.T) {
			draws := NewGenerator(7).Generate(v, 40, start)
			require.Len(t, draws, 40)
			ids := make(map[string]bool)
			for i, d := range draws {
				require.NoError(t, d.Validate())
				assert.Equal(t, start.AddDate(0, 0, i), d.DrawDate)
				assert.False(t, ids[d.ID], "duplicate id %s", d.ID)
				ids[d.ID] = true
			}
		})
	}

	a := NewGenerator(42).Generate(DLT, 10, start)
	b := NewGenerator(42).Generate(DLT, 10, start)
	assert.Equal(t, a, b, "same seed must reproduce the same drawings")
}
