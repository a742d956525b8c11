package profile

import (
	"fmt"
	"math"
)

// Polar is a boat speed table indexed by true wind angle (rows) and true
// wind speed (columns).
//
//	name: cruiser-35
//	tws: [6, 8, 10, 12, 16, 20]
//	twa: [0, 45, 60, 90, 120, 150, 180]
//	speed:
//	  - [0, 0, 0, 0, 0, 0]
//	  - [4.1, 5.0, 5.6, 5.9, 6.2, 6.3]
//	  ...
type Polar struct {
	Name  string      `yaml:"name"`
	TWS   []float64   `yaml:"tws"`
	TWA   []float64   `yaml:"twa"`
	Speed [][]float64 `yaml:"speed"`
}

func (p *Polar) validate() error {
	if len(p.TWS) < 2 {
		return fmt.Errorf("tws needs at least 2 values")
	}
	if len(p.TWA) < 2 {
		return fmt.Errorf("twa needs at least 2 values")
	}
	if err := increasing(p.TWS); err != nil {
		return fmt.Errorf("tws %w", err)
	}
	if err := increasing(p.TWA); err != nil {
		return fmt.Errorf("twa %w", err)
	}
	if p.TWA[0] < 0 || p.TWA[len(p.TWA)-1] > 180 {
		return fmt.Errorf("twa must be within [0, 180]")
	}
	if len(p.Speed) != len(p.TWA) {
		return fmt.Errorf("speed has %d rows, want %d (one per twa)", len(p.Speed), len(p.TWA))
	}
	for i, row := range p.Speed {
		if len(row) != len(p.TWS) {
			return fmt.Errorf("speed[%d] has %d values, want %d (one per tws)", i, len(row), len(p.TWS))
		}
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("speed[%d][%d] must be a finite value >= 0", i, j)
			}
		}
	}
	return nil
}

func increasing(vs []float64) error {
	for i := 1; i < len(vs); i++ {
		if vs[i] <= vs[i-1] {
			return fmt.Errorf("must be strictly increasing (index %d)", i)
		}
	}
	return nil
}

// BoatSpeed returns the bilinearly interpolated target speed in knots. twa is
// folded into [0, 180]; values outside the table axes clamp to the edges.
func (p *Polar) BoatSpeed(twaDeg, twsKts float64) float64 {
	if p == nil || len(p.Speed) == 0 {
		return 0
	}
	twa := math.Abs(math.Mod(twaDeg, 360))
	if twa > 180 {
		twa = 360 - twa
	}
	a0, a1, fa := interpolationIndex(p.TWA, twa)
	s0, s1, fs := interpolationIndex(p.TWS, twsKts)

	r0 := p.Speed[a0][s0] + (p.Speed[a0][s1]-p.Speed[a0][s0])*fs
	r1 := p.Speed[a1][s0] + (p.Speed[a1][s1]-p.Speed[a1][s0])*fs
	return r0 + (r1-r0)*fa
}

// MaxSpeed returns the largest value in the table.
func (p *Polar) MaxSpeed() float64 {
	max := 0.0
	for _, row := range p.Speed {
		for _, v := range row {
			if v > max {
				max = v
			}
		}
	}
	return max
}

// interpolationIndex returns the bracketing indexes for value and the
// fraction of the way from the first to the second.
func interpolationIndex(axis []float64, value float64) (int, int, float64) {
	n := len(axis)
	if value <= axis[0] {
		return 0, 0, 0
	}
	if value >= axis[n-1] {
		return n - 1, n - 1, 0
	}
	i := 1
	for axis[i] < value {
		i++
	}
	return i - 1, i, (value - axis[i-1]) / (axis[i] - axis[i-1])
}
