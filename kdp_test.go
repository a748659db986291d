/*
Copyright © 2019 the DualPol authors.
This file is part of DualPol.

DualPol is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

DualPol is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with DualPol.  If not, see <http://www.gnu.org/licenses/>.
*/

package dualpol

import (
	"math"
	"testing"
)

const kdpTolerance = 1.e-8

func TestClampKDP(t *testing.T) {
	kdp := constField(1, 5, 0).Data
	kdp.Set(FillValue, 0, 0)
	kdp.Set(-5, 0, 1)
	kdp.Set(0.5, 0, 2)
	kdp.Set(20, 0, 3)
	kdp.Set(3, 0, 4)
	filter := NewGateFilter(1, 5)
	filter.ExcludeGate(0, 4)

	c := DefaultKDPConfig()
	ClampKDP(kdp, filter, c)
	want := []float64{0, 0, 0.5, 0, 0}
	for j, w := range want {
		if v := kdp.Get(0, j); v != w {
			t.Errorf("gate %d: clamped = %g, want %g", j, v, w)
		}
	}

	// Applying the clamp twice yields the same grid.
	again := kdp.Copy()
	ClampKDP(again, filter, c)
	for j := range want {
		if again.Get(0, j) != kdp.Get(0, j) {
			t.Errorf("gate %d: clamp is not idempotent", j)
		}
	}
}

func TestFilteredDifferenceWindowValidation(t *testing.T) {
	rng := []float64{250, 500, 750}
	phidp := constField(1, 3, 0).Data
	filter := NewGateFilter(1, 3)
	for _, w := range []int{1, 4} {
		c := DefaultKDPConfig()
		c.WindowLength = w
		if _, _, err := FilteredDifference(c)(rng, phidp, nil, filter); err == nil {
			t.Errorf("window length %d: expected an error", w)
		}
	}
}

// Integrating a synthetic KDP profile to a phase ramp and
// differentiating the ramp back recovers the profile away from the
// ray edges. The profile varies linearly with range, which the
// anti-symmetric kernel differentiates exactly.
func TestFilteredDifferenceRoundTrip(t *testing.T) {
	const ngates = 60
	s := testSweep(1, ngates)
	kdpTrue := make([]float64, ngates)
	for j := range kdpTrue {
		kdpTrue[j] = 1 + 0.5*s.Range[j]/1000
	}

	// phidp = 2 ∫ kdp dr, the two-way propagation phase.
	phidp := constField(1, ngates, 0).Data
	acc := 0.
	for j := 1; j < ngates; j++ {
		acc += (kdpTrue[j] + kdpTrue[j-1]) * (s.Range[j] - s.Range[j-1]) / 1000
		phidp.Set(acc, 0, j)
	}
	phidp.Set(0, 0, 0)

	c := DefaultKDPConfig()
	c.WindowLength = 9
	filter := NewGateFilter(1, ngates)
	kdp, refit, err := FilteredDifference(c)(s.Range, phidp, nil, filter)
	if err != nil {
		t.Fatal(err)
	}
	if refit != nil {
		t.Error("the derivative filter does not refit the phase")
	}
	for j := c.WindowLength; j < ngates-c.WindowLength; j++ {
		if v := kdp.Get(0, j); math.Abs(v-kdpTrue[j]) > kdpTolerance {
			t.Errorf("gate %d: kdp = %g, want %g", j, v, kdpTrue[j])
		}
	}
}

func TestBringiFit(t *testing.T) {
	const nrays, ngates = 2, 40
	const slope = 4. // [deg/km]
	s := testSweep(nrays, ngates)
	phidp := constField(nrays, ngates, 0).Data
	for j := 0; j < ngates; j++ {
		phidp.Set(slope*s.Range[j]/1000, 0, j)
		// High-texture noise on ray 1: no gate passes the texture
		// test there.
		phidp.Set(50*math.Pow(-1, float64(j)), 1, j)
	}
	refl := constField(nrays, ngates, 50)
	filter := NewGateFilter(nrays, ngates)

	c := DefaultKDPConfig()
	kdp, refit, err := BringiFit(c)(s.Range, phidp, refl, filter)
	if err != nil {
		t.Fatal(err)
	}
	if refit == nil {
		t.Fatal("the joint fit must return the refit phase")
	}

	// Away from the ray ends the smoothing window is symmetric and
	// the fit recovers half the phase slope exactly.
	for j := 15; j < 25; j++ {
		if v := kdp.Get(0, j); math.Abs(v-slope/2) > kdpTolerance {
			t.Errorf("gate %d: kdp = %g, want %g", j, v, slope/2)
		}
		if v := refit.Get(0, j); math.Abs(v-phidp.Get(0, j)) > kdpTolerance {
			t.Errorf("gate %d: refit phase = %g, want %g", j, v, phidp.Get(0, j))
		}
	}

	for j := 0; j < ngates; j++ {
		if v := kdp.Get(1, j); v != FillValue {
			t.Errorf("noisy ray gate %d: kdp = %g, want fill", j, v)
		}
	}
}
