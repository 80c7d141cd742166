package ml

import (
	"hash/fnv"
	"math/rand"
	"sort"

	"lottery-engine/internal/lottery"
)

// scored is a candidate number with its score.
type scored struct {
	Number int
	Score  float64
}

// topScored ranks candidates by descending score. The sort is stable, so
// ties keep the input order.
func topScored(cands []scored, k int) []scored {
	out := append([]scored(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// rankVector ranks numbers 1..len(scores) where scores[i] belongs to number i+1.
func rankVector(scores []float64, k int) []scored {
	cands := make([]scored, len(scores))
	for i, s := range scores {
		cands[i] = scored{Number: i + 1, Score: s}
	}
	return topScored(cands, k)
}

// finalize enforces the output invariants: exactly count distinct numbers
// in [1, max]. Invalid and duplicate picks are dropped and the gap is filled
// with the smallest unused numbers at the lowest observed confidence.
func finalize(picks []scored, count, max int) ([]int, []float64) {
	nums := make([]int, 0, count)
	conf := make([]float64, 0, count)
	used := make(map[int]bool, count)
	floor := 0.0
	for _, p := range picks {
		if len(nums) == count {
			break
		}
		if p.Number < 1 || p.Number > max || used[p.Number] {
			continue
		}
		used[p.Number] = true
		nums = append(nums, p.Number)
		conf = append(conf, p.Score)
		if len(conf) == 1 || p.Score < floor {
			floor = p.Score
		}
	}
	for n := 1; len(nums) < count && n <= max; n++ {
		if !used[n] {
			used[n] = true
			nums = append(nums, n)
			conf = append(conf, floor)
		}
	}
	return nums, conf
}

// finalizeSpecials applies the same rules to special numbers and returns nil
// for variants without them.
func finalizeSpecials(v lottery.Variant, picks []int) []int {
	if !v.HasSpecial() {
		return nil
	}
	cands := make([]scored, len(picks))
	for i, n := range picks {
		cands[i] = scored{Number: n}
	}
	nums, _ := finalize(cands, v.SpecialCount(), v.SpecialMax())
	return nums
}

// randomSpecials shuffles 1..SpecialMax and keeps SpecialCount of them.
func randomSpecials(v lottery.Variant, rng *rand.Rand) []int {
	if !v.HasSpecial() {
		return nil
	}
	perm := rng.Perm(v.SpecialMax())
	out := make([]int, v.SpecialCount())
	for i := range out {
		out[i] = perm[i] + 1
	}
	return out
}

// predictionRNG derives a generator from the model seed and the input, so a
// prediction is a pure function of model state and input.
func predictionRNG(seed int64, input *PredictionInput) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(input.Variant))
	if n := len(input.History); n > 0 {
		last := input.History[n-1]
		h.Write([]byte(last.DrawNumber))
		h.Write([]byte(last.DrawDate.UTC().Format("20060102")))
	}
	h.Write([]byte(input.TargetDate.UTC().Format("20060102")))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64()>>1)))
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
