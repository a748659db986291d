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
	"runtime"
	"sync"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// PhaseDomain declares whether the raw differential phase is measured
// on a 180-degree or a 360-degree interval. The domain must be
// supplied explicitly; DetectPhaseDomain implements the span
// heuristic for callers that want automatic detection.
type PhaseDomain int

const (
	// DomainFull means the raw phase spans 360 degrees.
	DomainFull PhaseDomain = iota
	// DomainHalf means the raw phase spans 180 degrees. Unfolded
	// values are doubled during processing and the pipeline halves
	// final outputs symmetrically to preserve the original units.
	DomainHalf
)

// PhaseConfig holds the tunable constants of the phase unfolders.
// The thresholds are empirical; they come from operational C-band
// processing and have no documented derivation.
type PhaseConfig struct {
	// Domain selects the angular representation of the raw
	// measurements.
	Domain PhaseDomain

	// HalfSpanThreshold is the raw-signal span at or below which
	// DetectPhaseDomain decides the measurements use a 180-degree
	// representation. 200 is 180 degrees plus some margin for noise.
	HalfSpanThreshold float64

	// OffsetShift is added to rays whose included-gate mean is
	// negative, moving them into a canonical non-negative domain.
	OffsetShift float64

	// MinRange is the distance from the radar [m] below which gates
	// are forced to zero in the isotonic fit; gates close to the
	// radar are intrinsically noisy.
	MinRange float64

	// BoundLo and BoundHi constrain the isotonic fit [degrees].
	BoundLo, BoundHi float64
}

// DefaultPhaseConfig returns the configuration used for operational
// C-band processing.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		Domain:            DomainFull,
		HalfSpanThreshold: 200,
		OffsetShift:       90,
		MinRange:          5000,
		BoundLo:           0,
		BoundHi:           360,
	}
}

// nyquist returns the dealiasing half-period for the configured
// angular domain.
func (c PhaseConfig) nyquist() float64 {
	if c.Domain == DomainHalf {
		return 90
	}
	return 180
}

// DetectPhaseDomain decides whether a raw differential phase field
// uses a half-range or full-range representation from the span of its
// valid samples.
func DetectPhaseDomain(phidp *FieldRecord, c PhaseConfig) PhaseDomain {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range phidp.Data.Elements {
		if v == phidp.FillValue || math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if math.IsInf(lo, 1) {
		// No valid samples to measure a span from; keep the
		// configured domain.
		return c.Domain
	}
	if hi-lo <= c.HalfSpanThreshold {
		return DomainHalf
	}
	return DomainFull
}

// A PhaseUnfolder resolves phase wrap ambiguity in raw differential
// phase measurements, producing a continuous unwrapped grid with
// gate-excluded entries forced to zero.
type PhaseUnfolder func(s *Sweep, phidp *FieldRecord, filter *GateFilter) (*sparse.DenseArray, error)

// RegionUnfolding returns a PhaseUnfolder that merges wrapped
// segments of each ray into one continuous ramp, treating the phase
// as a periodic signal with the configured Nyquist half-period. Rays
// whose included-gate mean is negative are shifted by c.OffsetShift;
// a ray with no included gates skips the shift rather than failing
// the sweep. In half-range mode the unfolded values are doubled.
func RegionUnfolding(c PhaseConfig) PhaseUnfolder {
	return func(s *Sweep, phidp *FieldRecord, filter *GateFilter) (*sparse.DenseArray, error) {
		nrays, ngates := s.NRays(), s.NGates()
		nyq := c.nyquist()
		out := sparse.ZerosDense(nrays, ngates)
		for i := 0; i < nrays; i++ {
			unfoldRay(out, phidp, filter, i, nyq)

			// Shift rays measured in a negative domain. The mean is
			// only defined when the ray has included gates; without
			// any, the shift is skipped for this ray only.
			sum, n := 0., 0
			for j := 0; j < ngates; j++ {
				if filter.Included(i, j) && phidp.Valid(i, j) {
					sum += phidp.Data.Get(i, j)
					n++
				}
			}
			if n > 0 && sum/float64(n) < 0 {
				for j := 0; j < ngates; j++ {
					out.AddVal(c.OffsetShift, i, j)
				}
			}

			if c.Domain == DomainHalf {
				for j := 0; j < ngates; j++ {
					out.Set(2*out.Get(i, j), i, j)
				}
			}
		}
		zeroExcluded(out, filter)
		return out, nil
	}
}

// unfoldRay dealiases one ray. Gates are grouped into regions
// delimited by excluded gates and by jumps larger than the Nyquist
// half-period; each region is shifted by an integer multiple of the
// full period so that it joins the previous region continuously.
func unfoldRay(out *sparse.DenseArray, phidp *FieldRecord, filter *GateFilter, ray int, nyq float64) {
	ngates := out.Shape[1]
	period := 2 * nyq
	var prev, shift float64
	havePrev := false
	for j := 0; j < ngates; j++ {
		if filter.Excluded(ray, j) || !phidp.Valid(ray, j) {
			continue
		}
		v := phidp.Data.Get(ray, j)
		if !havePrev {
			out.Set(v, ray, j)
			prev = v
			havePrev = true
			continue
		}
		want := v + shift
		if diff := want - prev; math.Abs(diff) > nyq {
			shift -= math.Round(diff/period) * period
			want = v + shift
		}
		out.Set(want, ray, j)
		prev = want
	}
}

// IsotonicUnfolding returns a PhaseUnfolder that fits a bounded
// non-decreasing curve to each ray with isotonic regression. Each ray
// is first averaged with its immediate neighbors over included gates;
// gates within c.MinRange of the radar are forced to zero. The result
// is a clamped, strictly non-decreasing phase curve per ray. Slower
// than RegionUnfolding but higher fidelity. Rays are fit
// independently on all available processors.
func IsotonicUnfolding(c PhaseConfig) PhaseUnfolder {
	region := RegionUnfolding(c)
	return func(s *Sweep, phidp *FieldRecord, filter *GateFilter) (*sparse.DenseArray, error) {
		unf, err := region(s, phidp, filter)
		if err != nil {
			return nil, err
		}
		nrays, ngates := s.NRays(), s.NGates()

		// Excluded gates must not contribute to the neighbor average.
		masked := unf.Copy()
		for i := 0; i < nrays; i++ {
			for j := 0; j < ngates; j++ {
				if filter.Excluded(i, j) {
					masked.Set(math.NaN(), i, j)
				}
			}
		}

		out := sparse.ZerosDense(nrays, ngates)
		nprocs := runtime.GOMAXPROCS(0)
		var wg sync.WaitGroup
		wg.Add(nprocs)
		for p := 0; p < nprocs; p++ {
			go func(p int) {
				defer wg.Done()
				for i := p; i < nrays; i += nprocs {
					isotonicRay(out, masked, s.Range, i, c)
				}
			}(p)
		}
		wg.Wait()
		zeroExcluded(out, filter)
		return out, nil
	}
}

// isotonicRay fits one ray. The fit input is the average of the ray
// and its direct neighbors, ignoring NaN gates.
func isotonicRay(out, masked *sparse.DenseArray, rng []float64, ray int, c PhaseConfig) {
	nrays, ngates := masked.Shape[0], masked.Shape[1]
	lo, hi := ray, ray
	if ray > 0 {
		lo = ray - 1
	}
	if ray < nrays-1 {
		hi = ray + 1
	}

	y := make([]float64, ngates)
	pos := make([]int, 0, ngates)
	for j := 0; j < ngates; j++ {
		if rng[j] < c.MinRange {
			continue
		}
		sum, n := 0., 0
		for i := lo; i <= hi; i++ {
			if v := masked.Get(i, j); !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		y[len(pos)] = sum / float64(n)
		pos = append(pos, j)
	}
	if len(pos) < 2 {
		return
	}
	y = y[:len(pos)]

	floats.AddConst(-floats.Min(y), y)
	fit := pava(y, c.BoundLo, c.BoundHi)
	base := floats.Min(fit)
	for k, j := range pos {
		out.Set(fit[k]-base, ray, j)
	}
}

// pava fits a non-decreasing sequence to y by pooling adjacent
// violators, then clamps the result to [lo, hi].
func pava(y []float64, lo, hi float64) []float64 {
	n := len(y)
	val := make([]float64, 0, n)    // pooled block means
	weight := make([]float64, 0, n) // pooled block sizes
	for _, v := range y {
		val = append(val, v)
		weight = append(weight, 1)
		for len(val) > 1 && val[len(val)-2] > val[len(val)-1] {
			k := len(val) - 1
			w := weight[k-1] + weight[k]
			val[k-1] = (val[k-1]*weight[k-1] + val[k]*weight[k]) / w
			weight[k-1] = w
			val = val[:k]
			weight = weight[:k]
		}
	}
	out := make([]float64, 0, n)
	for k, v := range val {
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		for i := 0.; i < weight[k]; i++ {
			out = append(out, v)
		}
	}
	return out
}

// ReconcilePhase recomputes a corrected differential phase by
// cumulative trapezoidal integration of the cleaned specific
// differential phase along each ray, removing the multi-valued
// "spider web" runs that direct unwrapping leaves behind. The
// integral is normalized by the gate count to preserve the field's
// physical scale, and the final gate of each ray keeps its previous
// value (the integration yields one fewer sample than the input).
// The pass is deterministic and idempotent when kdp is already clean.
func ReconcilePhase(phidp, kdp *sparse.DenseArray, rng []float64, filter *GateFilter, c KDPConfig) (phidpOut, kdpOut *sparse.DenseArray) {
	kdpOut = kdp.Copy()
	ClampKDP(kdpOut, filter, c)

	phidpOut = phidp.Copy()
	nrays := phidp.Shape[0]
	n := len(rng)
	for i := 0; i < nrays; i++ {
		acc := 0.
		for j := 1; j < n; j++ {
			acc += 0.5 * (kdpOut.Get(i, j) + kdpOut.Get(i, j-1)) * (rng[j] - rng[j-1])
			// A zero integral must overwrite the copied value, and
			// sparse.DenseArray.Set ignores zero values.
			phidpOut.Elements[phidpOut.Index1d(i, j-1)] = acc / float64(n)
		}
	}
	return phidpOut, kdpOut
}
