package ml

import (
	"math"
	"math/rand"
)

// minStd is the floor below which a feature is treated as constant.
const minStd = 1e-8

// Scaler standardises features to zero mean and unit variance.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column statistics over rows.
func FitScaler(rows [][]float64) *Scaler {
	if len(rows) == 0 {
		return &Scaler{}
	}
	width := len(rows[0])
	s := &Scaler{Mean: make([]float64, width), Std: make([]float64, width)}
	for _, r := range rows {
		for j, x := range r {
			s.Mean[j] += x
		}
	}
	n := float64(len(rows))
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, r := range rows {
		for j, x := range r {
			d := x - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] < minStd {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform returns a standardised copy of x. Columns the scaler has not
// seen pass through unchanged.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if s == nil || j >= len(s.Mean) {
			out[j] = v
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

func (s *Scaler) clone() *Scaler {
	if s == nil {
		return nil
	}
	return &Scaler{Mean: cloneVec(s.Mean), Std: cloneVec(s.Std)}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Activation names accepted by the neural network.
const (
	ActReLU      = "relu"
	ActSigmoid   = "sigmoid"
	ActTanh      = "tanh"
	ActLeakyReLU = "leaky_relu"
	ActELU       = "elu"
	ActLinear    = "linear"
)

func activate(name string, x float64) float64 {
	switch name {
	case ActReLU:
		return math.Max(0, x)
	case ActSigmoid:
		return sigmoid(x)
	case ActTanh:
		return math.Tanh(x)
	case ActLeakyReLU:
		if x > 0 {
			return x
		}
		return 0.01 * x
	case ActELU:
		if x > 0 {
			return x
		}
		return math.Exp(x) - 1
	default:
		return x
	}
}

// activateDeriv is the derivative with respect to the pre-activation z.
func activateDeriv(name string, z float64) float64 {
	switch name {
	case ActReLU:
		if z > 0 {
			return 1
		}
		return 0
	case ActSigmoid:
		s := sigmoid(z)
		return s * (1 - s)
	case ActTanh:
		t := math.Tanh(z)
		return 1 - t*t
	case ActLeakyReLU:
		if z > 0 {
			return 1
		}
		return 0.01
	case ActELU:
		if z > 0 {
			return 1
		}
		return math.Exp(z)
	default:
		return 1
	}
}

func validActivation(name string) bool {
	switch name {
	case ActReLU, ActSigmoid, ActTanh, ActLeakyReLU, ActELU, ActLinear:
		return true
	}
	return false
}

// matrix is a dense row-major matrix.
type matrix [][]float64

func newMatrix(rows, cols int) matrix {
	m := make(matrix, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// randomMatrix fills a rows x cols matrix with N(0, scale^2) samples.
func randomMatrix(rng *rand.Rand, rows, cols int, scale float64) matrix {
	m := newMatrix(rows, cols)
	for i := range m {
		for j := range m[i] {
			m[i][j] = rng.NormFloat64() * scale
		}
	}
	return m
}

func (m matrix) mulVec(x []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		s := 0.0
		for j, w := range row {
			if j < len(x) {
				s += w * x[j]
			}
		}
		out[i] = s
	}
	return out
}

// mulVecT computes m^T * x.
func (m matrix) mulVecT(x []float64) []float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([]float64, len(m[0]))
	for i, row := range m {
		for j, w := range row {
			out[j] += w * x[i]
		}
	}
	return out
}

func (m matrix) clone() matrix {
	out := make(matrix, len(m))
	for i, row := range m {
		out[i] = cloneVec(row)
	}
	return out
}

func cloneVec(xs []float64) []float64 {
	if xs == nil {
		return nil
	}
	return append([]float64(nil), xs...)
}

func cloneInts(xs []int) []int {
	if xs == nil {
		return nil
	}
	return append([]int(nil), xs...)
}

// invert returns the inverse of a square matrix by Gauss-Jordan elimination
// with partial pivoting, or false when the matrix is numerically singular.
func invert(a matrix) (matrix, bool) {
	n := len(a)
	aug := newMatrix(n, 2*n)
	for i := 0; i < n; i++ {
		copy(aug[i], a[i])
		aug[i][n+i] = 1
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-10 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		p := aug[col][col]
		for j := range aug[col] {
			aug[col][j] /= p
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			if f == 0 {
				continue
			}
			for j := range aug[r] {
				aug[r][j] -= f * aug[col][j]
			}
		}
	}
	inv := newMatrix(n, n)
	for i := range inv {
		copy(inv[i], aug[i][n:])
	}
	return inv, true
}

// multiHot encodes numbers in [1, size] as a 0/1 vector.
func multiHot(nums []int, size int) []float64 {
	out := make([]float64, size)
	for _, n := range nums {
		if n >= 1 && n <= size {
			out[n-1] = 1
		}
	}
	return out
}
