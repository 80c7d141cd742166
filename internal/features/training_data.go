package features

import (
	"lottery-engine/internal/lottery"
)

// TrainingData is a labelled training set. Features[i] summarises the window
// before the drawing whose numbers are Targets[i].
type TrainingData struct {
	Features       [][]float64     `json:"features"`
	Targets        [][]int         `json:"targets"`
	SpecialTargets [][]int         `json:"special_targets,omitempty"`
	Weights        []float64       `json:"weights,omitempty"`
	Variant        lottery.Variant `json:"lottery_type,omitempty"`
	Config         Config          `json:"feature_config"`
}

// Len returns the number of samples.
func (d *TrainingData) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Features)
}

// Validate checks the shape invariants every model relies on.
func (d *TrainingData) Validate() error {
	if d == nil || len(d.Features) == 0 || len(d.Targets) == 0 {
		return lottery.InvalidParameter("training data is empty")
	}
	if len(d.Features) != len(d.Targets) {
		return lottery.InvalidParameter("features and targets differ in length: %d != %d", len(d.Features), len(d.Targets))
	}
	width := len(d.Features[0])
	if width == 0 {
		return lottery.InvalidParameter("feature vectors are empty")
	}
	for i, row := range d.Features {
		if len(row) != width {
			return lottery.InvalidParameter("feature row %d has width %d, expected %d", i, len(row), width)
		}
	}
	return nil
}

// Subset returns the samples at idx, sharing the underlying rows.
func (d *TrainingData) Subset(idx []int) *TrainingData {
	out := &TrainingData{
		Features: make([][]float64, 0, len(idx)),
		Targets:  make([][]int, 0, len(idx)),
		Variant:  d.Variant,
		Config:   d.Config,
	}
	for _, i := range idx {
		out.Features = append(out.Features, d.Features[i])
		out.Targets = append(out.Targets, d.Targets[i])
		if i < len(d.SpecialTargets) {
			out.SpecialTargets = append(out.SpecialTargets, d.SpecialTargets[i])
		}
		if i < len(d.Weights) {
			out.Weights = append(out.Weights, d.Weights[i])
		}
	}
	return out
}

// Split cuts the data chronologically, the first frac of samples go to train.
func (d *TrainingData) Split(frac float64) (train, test *TrainingData) {
	cut := int(float64(d.Len()) * frac)
	if cut < 0 {
		cut = 0
	}
	if cut > d.Len() {
		cut = d.Len()
	}
	head := make([]int, cut)
	for i := range head {
		head[i] = i
	}
	tail := make([]int, d.Len()-cut)
	for i := range tail {
		tail[i] = cut + i
	}
	return d.Subset(head), d.Subset(tail)
}

// Width is the feature vector length, 0 for empty data.
func (d *TrainingData) Width() int {
	if d.Len() == 0 {
		return 0
	}
	return len(d.Features[0])
}
