// Package benefit maps an ambassador's confirmed-referral count to a fee
// discount tier.
package benefit

import (
	"fmt"
	"sort"

	"github.com/ambassador/referrals/internal/model"
)

// DefaultLongTermThreshold is the confirmed count that unlocks long-term benefits.
const DefaultLongTermThreshold = 5

// Benefit is the result of a tier lookup
type Benefit struct {
	Tier                 string `json:"tier,omitempty"`
	Percent              int    `json:"percent"`
	LongTermQualified    bool   `json:"long_term_qualified"`
	LongTermExtraPercent int    `json:"long_term_extra_percent"`
	BaseLongTermPercent  int    `json:"base_long_term_percent"`
}

// Calculator is a pure lookup over an ordered slab table
type Calculator struct {
	slabs             []model.BenefitSlab
	longTermThreshold int
}

// DefaultSlabs returns the slab table seeded by the initial migration.
func DefaultSlabs() []model.BenefitSlab {
	return []model.BenefitSlab{
		{Name: "Tier 1", Threshold: 1, YearFeePercent: 5},
		{Name: "Tier 2", Threshold: 2, YearFeePercent: 10},
		{Name: "Tier 3", Threshold: 3, YearFeePercent: 25},
		{Name: "Tier 4", Threshold: 4, YearFeePercent: 30},
		{Name: "Tier 5", Threshold: 5, YearFeePercent: 50},
	}
}

// NewCalculator validates slabs and returns a calculator. Thresholds must be
// positive and strictly increasing once sorted; percentages must lie in 0..100.
func NewCalculator(slabs []model.BenefitSlab, longTermThreshold int) (*Calculator, error) {
	if len(slabs) == 0 {
		return nil, fmt.Errorf("at least one benefit slab is required")
	}
	if longTermThreshold <= 0 {
		longTermThreshold = DefaultLongTermThreshold
	}

	sorted := make([]model.BenefitSlab, len(slabs))
	copy(sorted, slabs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	for i, s := range sorted {
		if s.Threshold <= 0 {
			return nil, fmt.Errorf("slab %q: threshold must be positive", s.Name)
		}
		if i > 0 && s.Threshold == sorted[i-1].Threshold {
			return nil, fmt.Errorf("duplicate slab threshold %d", s.Threshold)
		}
		for _, p := range []int{s.YearFeePercent, s.LongTermExtraPercent, s.BaseLongTermPercent} {
			if p < 0 || p > 100 {
				return nil, fmt.Errorf("slab %q: percentage %d out of range", s.Name, p)
			}
		}
	}

	return &Calculator{slabs: sorted, longTermThreshold: longTermThreshold}, nil
}

// MustDefault returns a calculator over DefaultSlabs.
func MustDefault() *Calculator {
	c, err := NewCalculator(DefaultSlabs(), DefaultLongTermThreshold)
	if err != nil {
		panic(err)
	}
	return c
}

// Compute returns the benefit for a confirmed-referral count. It is total:
// negative counts behave like zero and counts beyond the last slab clamp to it.
func (c *Calculator) Compute(confirmedCount int) Benefit {
	b := Benefit{LongTermQualified: confirmedCount >= c.longTermThreshold}

	idx := sort.Search(len(c.slabs), func(i int) bool { return c.slabs[i].Threshold > confirmedCount }) - 1
	if idx < 0 {
		return b
	}

	s := c.slabs[idx]
	b.Tier = s.Name
	b.Percent = s.YearFeePercent
	b.LongTermExtraPercent = s.LongTermExtraPercent
	b.BaseLongTermPercent = s.BaseLongTermPercent
	return b
}

// Slabs returns a copy of the ordered slab table.
func (c *Calculator) Slabs() []model.BenefitSlab {
	out := make([]model.BenefitSlab, len(c.slabs))
	copy(out, c.slabs)
	return out
}
