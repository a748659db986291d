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

const phaseTolerance = 1.e-8

func TestDetectPhaseDomain(t *testing.T) {
	narrow := constField(1, 3, 0)
	narrow.Data.Set(-60, 0, 0)
	narrow.Data.Set(-30, 0, 1)
	if d := DetectPhaseDomain(narrow, DefaultPhaseConfig()); d != DomainHalf {
		t.Errorf("span 60: domain = %v, want DomainHalf", d)
	}

	wide := constField(1, 3, 0)
	wide.Data.Set(-180, 0, 0)
	wide.Data.Set(179, 0, 1)
	wide.Data.Set(FillValue, 0, 2) // fill must not widen the span
	if d := DetectPhaseDomain(wide, DefaultPhaseConfig()); d != DomainFull {
		t.Errorf("span 359: domain = %v, want DomainFull", d)
	}

	// With no valid samples there is no span to measure; the
	// configured domain stands.
	empty := constField(1, 3, FillValue)
	if d := DetectPhaseDomain(empty, DefaultPhaseConfig()); d != DomainFull {
		t.Errorf("all-fill field: domain = %v, want the configured DomainFull", d)
	}
	ch := DefaultPhaseConfig()
	ch.Domain = DomainHalf
	if d := DetectPhaseDomain(empty, ch); d != DomainHalf {
		t.Errorf("all-fill field: domain = %v, want the configured DomainHalf", d)
	}
}

// A half-domain ray with a negative mean: the unfolder shifts it by
// the offset and doubles it.
func TestRegionUnfoldingHalfDomain(t *testing.T) {
	s := testSweep(1, 3)
	phidp := constField(1, 3, 0)
	phidp.Data.Set(-60, 0, 0)
	phidp.Data.Set(-30, 0, 1)
	phidp.Data.Set(0, 0, 2)
	filter := NewGateFilter(1, 3)

	c := DefaultPhaseConfig()
	c.Domain = DomainHalf
	out, err := RegionUnfolding(c)(s, phidp, filter)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{60, 120, 180} // (raw + 90) * 2
	for j, w := range want {
		if v := out.Get(0, j); math.Abs(v-w) > phaseTolerance {
			t.Errorf("gate %d: unfolded = %g, want %g", j, v, w)
		}
	}
}

// A full-domain ray that wraps past 180 degrees: the wrapped segment
// is shifted by the full period so the ray stays continuous.
func TestRegionUnfoldingWrap(t *testing.T) {
	s := testSweep(1, 3)
	phidp := constField(1, 3, 0)
	phidp.Data.Set(170, 0, 0)
	phidp.Data.Set(175, 0, 1)
	phidp.Data.Set(-179, 0, 2)
	filter := NewGateFilter(1, 3)

	out, err := RegionUnfolding(DefaultPhaseConfig())(s, phidp, filter)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{170, 175, 181}
	for j, w := range want {
		if v := out.Get(0, j); math.Abs(v-w) > phaseTolerance {
			t.Errorf("gate %d: unfolded = %g, want %g", j, v, w)
		}
	}
}

// The offset shift lands on every gate of a negative-mean ray, so
// excluded gates pick it up too and must still come out zero.
func TestRegionUnfoldingOffsetExclusion(t *testing.T) {
	s := testSweep(1, 4)
	phidp := constField(1, 4, 0)
	phidp.Data.Set(-60, 0, 0)
	phidp.Data.Set(-30, 0, 1)
	phidp.Data.Set(0, 0, 2)
	phidp.Data.Set(30, 0, 3)
	filter := NewGateFilter(1, 4)
	filter.ExcludeGate(0, 3)

	out, err := RegionUnfolding(DefaultPhaseConfig())(s, phidp, filter)
	if err != nil {
		t.Fatal(err)
	}
	// Included-gate mean is -30, so the ray is shifted by 90; the
	// excluded gate must end at zero regardless.
	want := []float64{30, 60, 90, 0}
	for j, w := range want {
		if v := out.Get(0, j); math.Abs(v-w) > phaseTolerance {
			t.Errorf("gate %d: unfolded = %g, want %g", j, v, w)
		}
	}
}

// A fully excluded ray produces a zero row instead of failing the
// sweep.
func TestRegionUnfoldingExcludedRay(t *testing.T) {
	s := testSweep(2, 4)
	phidp := constField(2, 4, -45)
	filter := NewGateFilter(2, 4)
	for j := 0; j < 4; j++ {
		filter.ExcludeGate(0, j)
	}

	out, err := RegionUnfolding(DefaultPhaseConfig())(s, phidp, filter)
	if err != nil {
		t.Fatal(err)
	}
	for j := 0; j < 4; j++ {
		if v := out.Get(0, j); v != 0 {
			t.Errorf("excluded gate %d: unfolded = %g, want 0", j, v)
		}
	}
	for j := 0; j < 4; j++ {
		if v := out.Get(1, j); v == 0 {
			t.Errorf("included gate %d on ray 1 should be nonzero", j)
		}
	}
}

// The isotonic fit yields a non-decreasing curve along every ray.
func TestIsotonicUnfoldingMonotone(t *testing.T) {
	const nrays, ngates = 3, 30
	s := testSweep(nrays, ngates)
	phidp := constField(nrays, ngates, 0)
	for i := 0; i < nrays; i++ {
		for j := 0; j < ngates; j++ {
			// An increasing ramp with a deterministic wiggle.
			v := 3*float64(j) + 5*math.Sin(float64(i*ngates+j))
			phidp.Data.Set(v, i, j)
		}
	}
	filter := NewGateFilter(nrays, ngates)
	filter.ExcludeGate(1, 10)

	c := DefaultPhaseConfig()
	c.MinRange = 0
	out, err := IsotonicUnfolding(c)(s, phidp, filter)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < nrays; i++ {
		prev := math.Inf(-1)
		for j := 0; j < ngates; j++ {
			if filter.Excluded(i, j) {
				if out.Get(i, j) != 0 {
					t.Errorf("ray %d gate %d: excluded gate not zeroed", i, j)
				}
				continue
			}
			v := out.Get(i, j)
			if v < prev-phaseTolerance {
				t.Errorf("ray %d gate %d: fit decreases from %g to %g", i, j, prev, v)
			}
			if v < c.BoundLo-phaseTolerance || v > c.BoundHi+phaseTolerance {
				t.Errorf("ray %d gate %d: fit %g outside [%g, %g]", i, j, v, c.BoundLo, c.BoundHi)
			}
			prev = v
		}
	}
}

func TestPava(t *testing.T) {
	got := pava([]float64{1, 3, 2, 4}, 0, 360)
	want := []float64{1, 2.5, 2.5, 4}
	for k, w := range want {
		if math.Abs(got[k]-w) > phaseTolerance {
			t.Errorf("element %d: fit = %g, want %g", k, got[k], w)
		}
	}

	clamped := pava([]float64{-10, 400}, 0, 360)
	if clamped[0] != 0 || clamped[1] != 360 {
		t.Errorf("clamp: fit = %v, want [0 360]", clamped)
	}
}

func TestReconcilePhase(t *testing.T) {
	rng := []float64{250, 500, 750, 1000}
	filter := NewGateFilter(1, 4)

	phidp := constField(1, 4, 0).Data
	phidp.Set(999, 0, 3) // final gate keeps its previous value
	kdp := constField(1, 4, 2).Data

	phidpOut, kdpOut := ReconcilePhase(phidp, kdp, rng, filter, DefaultKDPConfig())

	// Trapezoid integral of constant 2 over 250 m steps, normalized
	// by the gate count.
	want := []float64{125, 250, 375, 999}
	for j, w := range want {
		if v := phidpOut.Get(0, j); math.Abs(v-w) > phaseTolerance {
			t.Errorf("gate %d: reconciled phase = %g, want %g", j, v, w)
		}
	}
	for j := 0; j < 4; j++ {
		if v := kdpOut.Get(0, j); v != 2 {
			t.Errorf("gate %d: clamped kdp = %g, want 2", j, v)
		}
	}
	if phidp.Get(0, 0) != 0 || kdp.Get(0, 0) != 2 {
		t.Error("inputs must not be modified")
	}

	// Idempotence: reconciling the already-clean output changes
	// nothing in the kdp grid.
	_, kdpAgain := ReconcilePhase(phidpOut, kdpOut, rng, filter, DefaultKDPConfig())
	for j := 0; j < 4; j++ {
		if kdpAgain.Get(0, j) != kdpOut.Get(0, j) {
			t.Errorf("gate %d: reconciliation of clean kdp is not idempotent", j)
		}
	}
}
