package lottery

import (
	"fmt"
	"time"
)

// Drawing is one historical draw. Drawings are produced by a collector and
// treated as read-only by the engine.
type Drawing struct {
	ID             string    `json:"id"`
	Variant        Variant   `json:"lottery_type"`
	DrawNumber     string    `json:"draw_number"`
	DrawDate       time.Time `json:"draw_date"`
	Numbers        []int     `json:"winning_numbers"`
	SpecialNumbers []int     `json:"special_numbers,omitempty"`
	Source         string    `json:"data_source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks counts, ranges and duplicates against the variant table.
func (d Drawing) Validate() error {
	if !d.Variant.Valid() {
		return InvalidParameter("drawing %s: unknown lottery type %q", d.DrawNumber, d.Variant)
	}
	if d.DrawDate.IsZero() {
		return InvalidParameter("drawing %s: missing draw date", d.DrawNumber)
	}
	if len(d.Numbers) != d.Variant.MainCount() {
		return InvalidParameter("drawing %s: expected %d numbers, got %d", d.DrawNumber, d.Variant.MainCount(), len(d.Numbers))
	}
	if err := checkNumbers(d.Numbers, d.Variant.MaxNumber()); err != nil {
		return InvalidParameter("drawing %s: %v", d.DrawNumber, err)
	}
	if d.Variant.HasSpecial() {
		if len(d.SpecialNumbers) != d.Variant.SpecialCount() {
			return InvalidParameter("drawing %s: expected %d special numbers, got %d",
				d.DrawNumber, d.Variant.SpecialCount(), len(d.SpecialNumbers))
		}
		if err := checkNumbers(d.SpecialNumbers, d.Variant.SpecialMax()); err != nil {
			return InvalidParameter("drawing %s: special %v", d.DrawNumber, err)
		}
	} else if len(d.SpecialNumbers) > 0 {
		return InvalidParameter("drawing %s: %s has no special numbers", d.DrawNumber, d.Variant)
	}
	return nil
}

func checkNumbers(nums []int, max int) error {
	seen := make(map[int]bool, len(nums))
	for _, n := range nums {
		if n < 1 || n > max {
			return fmt.Errorf("number %d outside [1, %d]", n, max)
		}
		if seen[n] {
			return fmt.Errorf("duplicate number %d", n)
		}
		seen[n] = true
	}
	return nil
}

// Sum returns the sum of the main numbers.
func (d Drawing) Sum() int {
	s := 0
	for _, n := range d.Numbers {
		s += n
	}
	return s
}
