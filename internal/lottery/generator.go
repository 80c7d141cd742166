package lottery

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// GeneratorSource tags drawings created by Generator.
const GeneratorSource = "synthetic"

// Generator produces synthetic drawings for seeding stores, demos and tests.
// Output is fully determined by the seed; IDs are derived from it too.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns n consecutive daily drawings starting at start.
func (g *Generator) Generate(v Variant, n int, start time.Time) []Drawing {
	out := make([]Drawing, 0, n)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, i)
		d := Drawing{
			ID:         g.newID(),
			Variant:    v,
			DrawNumber: fmt.Sprintf("%d%03d", date.Year(), date.YearDay()),
			DrawDate:   date,
			Numbers:    g.pick(v.MainCount(), v.MaxNumber()),
			Source:     GeneratorSource,
			CreatedAt:  date,
		}
		if v.HasSpecial() {
			d.SpecialNumbers = g.pick(v.SpecialCount(), v.SpecialMax())
		}
		out = append(out, d)
	}
	return out
}

// pick draws count distinct numbers from [1, max], sorted ascending.
func (g *Generator) pick(count, max int) []int {
	perm := g.rng.Perm(max)
	nums := make([]int, count)
	for i := 0; i < count; i++ {
		nums[i] = perm[i] + 1
	}
	sort.Ints(nums)
	return nums
}

func (g *Generator) newID() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
