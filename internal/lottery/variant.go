// Package lottery holds the lottery domain model shared by every engine
// component: variant lookup tables, historical drawings, error kinds and a
// deterministic synthetic draw generator.
package lottery

import (
	"fmt"
	"strings"
)

// Variant identifies a lottery game.
type Variant string

const (
	SSQ    Variant = "ssq"  // double color ball
	DLT    Variant = "dlt"  // super lotto
	FC3D   Variant = "fc3d" // welfare 3D
	PL3    Variant = "pl3"
	PL5    Variant = "pl5"
	Custom Variant = "custom"
)

type variantRules struct {
	maxNumber    int
	specialMax   int
	mainCount    int
	specialCount int
}

// variantTable is the only source of per-variant constants. Feature
// extraction, prediction and the ensembles all read from it.
var variantTable = map[Variant]variantRules{
	SSQ:    {maxNumber: 33, specialMax: 16, mainCount: 6, specialCount: 1},
	DLT:    {maxNumber: 35, specialMax: 12, mainCount: 5, specialCount: 2},
	FC3D:   {maxNumber: 9, specialMax: 0, mainCount: 3, specialCount: 0},
	PL3:    {maxNumber: 9, specialMax: 0, mainCount: 3, specialCount: 0},
	PL5:    {maxNumber: 9, specialMax: 0, mainCount: 5, specialCount: 0},
	Custom: {maxNumber: 49, specialMax: 16, mainCount: 6, specialCount: 1},
}

// AllVariants returns every known variant in a stable order.
func AllVariants() []Variant {
	return []Variant{SSQ, DLT, FC3D, PL3, PL5, Custom}
}

// ParseVariant converts a user supplied name into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := variantTable[v]; !ok {
		return "", InvalidParameter("unknown lottery type %q", s)
	}
	return v, nil
}

// ParseVariants parses a list of variant names, rejecting the first unknown one.
func ParseVariants(names []string) ([]Variant, error) {
	out := make([]Variant, 0, len(names))
	for _, n := range names {
		v, err := ParseVariant(n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (v Variant) rules() variantRules {
	if s, ok := variantTable[v]; ok {
		return s
	}
	return variantTable[Custom]
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	_, ok := variantTable[v]
	return ok
}

// MaxNumber is the largest main number that can be drawn.
func (v Variant) MaxNumber() int { return v.rules().maxNumber }

// SpecialMax is the largest special number, 0 when the variant has none.
func (v Variant) SpecialMax() int { return v.rules().specialMax }

// MainCount is the number of main numbers per draw.
func (v Variant) MainCount() int { return v.rules().mainCount }

// SpecialCount is the number of special numbers per draw.
func (v Variant) SpecialCount() int { return v.rules().specialCount }

// HasSpecial reports whether draws of this variant carry special numbers.
func (v Variant) HasSpecial() bool { return v.rules().specialCount > 0 }

func (v Variant) String() string { return string(v) }

// DisplayName returns a human readable label used in reports.
func (v Variant) DisplayName() string {
	switch v {
	case SSQ:
		return "Double Color Ball"
	case DLT:
		return "Super Lotto"
	case FC3D:
		return "Welfare 3D"
	case PL3:
		return "Pick 3"
	case PL5:
		return "Pick 5"
	default:
		return fmt.Sprintf("Custom (%d/%d)", v.MainCount(), v.MaxNumber())
	}
}
