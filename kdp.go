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
	"fmt"
	"runtime"
	"sync"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// KDPConfig holds the tunable constants of the specific differential
// phase estimators.
type KDPConfig struct {
	// WindowLength is the length, in gates, of the derivative
	// filter used by FilteredDifference. It must be odd: larger
	// windows trade range resolution for noise rejection.
	WindowLength int

	// KDPMin and KDPMax bound the physically plausible band
	// [deg/km]. Values outside the band are zeroed, not propagated.
	KDPMin, KDPMax float64

	// StdThreshold is the phase texture (standard deviation over
	// StdGate gates) above which a gate is considered unreliable
	// by BringiFit [degrees].
	StdThreshold float64

	// StdGate is the length, in gates, of the texture window.
	StdGate int

	// FitWindow is the base length of the BringiFit line-fit
	// window [m]. The window is widened in weak echo.
	FitWindow float64
}

// DefaultKDPConfig returns the configuration used for operational
// C-band processing.
func DefaultKDPConfig() KDPConfig {
	return KDPConfig{
		WindowLength: 35,
		KDPMin:       -4,
		KDPMax:       15,
		StdThreshold: 12,
		StdGate:      11,
		FitWindow:    3000,
	}
}

// A KDPEstimator differentiates an unwrapped differential phase grid
// along the range axis. Estimators that re-estimate the phase jointly
// with its derivative return the refit grid as well; others return a
// nil refit. refl is a deweighting covariate and may be ignored.
type KDPEstimator func(rng []float64, phidp *sparse.DenseArray, refl *FieldRecord, filter *GateFilter) (kdp, phidpRefit *sparse.DenseArray, err error)

// FilteredDifference returns a KDPEstimator that convolves each ray
// with a normalized anti-symmetric ramp kernel, yielding a smoothed
// range derivative resistant to sample-level noise.
func FilteredDifference(c KDPConfig) KDPEstimator {
	return func(rng []float64, phidp *sparse.DenseArray, refl *FieldRecord, filter *GateFilter) (*sparse.DenseArray, *sparse.DenseArray, error) {
		w := c.WindowLength
		if w < 3 || w%2 == 0 {
			return nil, nil, fmt.Errorf("dualpol: derivative window length must be odd and at least 3, got %d", w)
		}
		if len(rng) < 2 {
			return nil, nil, fmt.Errorf("dualpol: at least two range gates are required, got %d", len(rng))
		}
		kernel := make([]float64, w)
		for i := range kernel {
			kernel[i] = 2*float64(i)/float64(w-1) - 1
		}
		norm := 0.
		for _, v := range kernel {
			if v < 0 {
				norm -= v
			} else {
				norm += v
			}
		}
		floats.Scale(1/norm, kernel)

		dgate := (rng[1] - rng[0]) / 1000 // [km]
		scale := float64(w) / 3 * 2 * dgate

		nrays, ngates := phidp.Shape[0], phidp.Shape[1]
		out := sparse.ZerosDense(nrays, ngates)
		for i := 0; i < nrays; i++ {
			src := phidp.Elements[i*ngates : (i+1)*ngates]
			dst := out.Elements[i*ngates : (i+1)*ngates]
			correlateRay(dst, src, kernel)
			floats.Scale(1/scale, dst)
		}
		return out, nil, nil
	}
}

// correlateRay computes dst[j] = Σ kernel[k]·src[j+k-half] with
// reflected boundaries, the convention of the smoothing filters the
// estimators are built on.
func correlateRay(dst, src, kernel []float64) {
	half := len(kernel) / 2
	n := len(src)
	for j := range src {
		var sum float64
		for k, kv := range kernel {
			idx := j + k - half
			for idx < 0 || idx >= n {
				if idx < 0 {
					idx = -idx - 1
				}
				if idx >= n {
					idx = 2*n - idx - 1
				}
			}
			sum += kv * src[idx]
		}
		dst[j] = sum
	}
}

// BringiFit returns a KDPEstimator implementing a self-consistent
// joint phase/KDP estimate. Gates whose phase texture exceeds
// c.StdThreshold are unreliable and marked with the fill value. For
// the remaining gates the phase is fit with a least-squares line over
// a window whose length adapts to reflectivity (weak echo gets a wider
// window) and KDP is half the fitted slope. Degenerate fits (fewer
// than two distinct samples in the window) also produce fill values;
// the sweep as a whole still completes. Rays are processed
// independently on all available processors.
func BringiFit(c KDPConfig) KDPEstimator {
	return func(rng []float64, phidp *sparse.DenseArray, refl *FieldRecord, filter *GateFilter) (*sparse.DenseArray, *sparse.DenseArray, error) {
		if len(rng) < 2 {
			return nil, nil, fmt.Errorf("dualpol: at least two range gates are required, got %d", len(rng))
		}
		dgate := rng[1] - rng[0]
		nwin := int(c.FitWindow/dgate + 0.5)
		if nwin < 3 {
			nwin = 3
		}

		nrays, ngates := phidp.Shape[0], phidp.Shape[1]
		kdp := sparse.ZerosDense(nrays, ngates)
		refit := sparse.ZerosDense(nrays, ngates)

		nprocs := runtime.GOMAXPROCS(0)
		var wg sync.WaitGroup
		wg.Add(nprocs)
		for p := 0; p < nprocs; p++ {
			go func(p int) {
				defer wg.Done()
				for i := p; i < nrays; i += nprocs {
					bringiRay(kdp, refit, rng, phidp, refl, filter, i, nwin, c)
				}
			}(p)
		}
		wg.Wait()
		return kdp, refit, nil
	}
}

// bringiRay runs the joint fit for a single ray.
func bringiRay(kdp, refit *sparse.DenseArray, rng []float64, phidp *sparse.DenseArray, refl *FieldRecord, filter *GateFilter, ray, nwin int, c KDPConfig) {
	ngates := phidp.Shape[1]

	// Phase texture: running standard deviation over the StdGate
	// window. Gates with high texture are rejected.
	good := make([]bool, ngates)
	half := c.StdGate / 2
	for j := 0; j < ngates; j++ {
		if filter.Excluded(ray, j) {
			continue
		}
		var d stats.Stats
		for k := j - half; k <= j+half; k++ {
			if k < 0 || k >= ngates || filter.Excluded(ray, k) {
				continue
			}
			d.Update(phidp.Get(ray, k))
		}
		if d.Count() >= 2 && d.SampleStandardDeviation() < c.StdThreshold {
			good[j] = true
		}
	}

	// Smoothed phase for the joint re-estimate.
	sm := make([]float64, ngates)
	smHalf := nwin / 2
	for j := 0; j < ngates; j++ {
		sum, n := 0., 0
		for k := j - smHalf; k <= j+smHalf; k++ {
			if k < 0 || k >= ngates || !good[k] {
				continue
			}
			sum += phidp.Get(ray, k)
			n++
		}
		if n > 0 {
			sm[j] = sum / float64(n)
		}
	}

	xs := make([]float64, 0, 3*nwin)
	ys := make([]float64, 0, 3*nwin)
	for j := 0; j < ngates; j++ {
		if !good[j] {
			kdp.Set(FillValue, ray, j)
			refit.Set(FillValue, ray, j)
			continue
		}
		refit.Set(sm[j], ray, j)

		// Weak echo gets a longer fit window: the phase is noisier
		// where reflectivity is low.
		wlen := nwin
		switch z := refl.Data.Get(ray, j); {
		case !refl.Valid(ray, j) || z < 35:
			wlen = 3 * nwin
		case z < 45:
			wlen = 2 * nwin
		}
		fitHalf := wlen / 2

		xs, ys = xs[:0], ys[:0]
		for k := j - fitHalf; k <= j+fitHalf; k++ {
			if k < 0 || k >= ngates || !good[k] {
				continue
			}
			xs = append(xs, rng[k]/1000)
			ys = append(ys, sm[k])
		}
		if len(xs) < 2 || xs[0] == xs[len(xs)-1] {
			// Solver failure: not enough information for a slope.
			kdp.Set(FillValue, ray, j)
			refit.Set(FillValue, ray, j)
			continue
		}
		slope, _, _, _, _, _ := stats.LinearRegression(xs, ys)
		kdp.Set(slope/2, ray, j)
	}
}

// ClampKDP zeroes the specific differential phase at every excluded
// gate and wherever the value falls outside the plausible band
// [c.KDPMin, c.KDPMax]. Applying the clamp twice yields the same grid
// as applying it once. sparse.DenseArray.Set ignores zero values, so
// the writes go through Elements.
func ClampKDP(kdp *sparse.DenseArray, filter *GateFilter, c KDPConfig) {
	nrays, ngates := kdp.Shape[0], kdp.Shape[1]
	for i := 0; i < nrays; i++ {
		for j := 0; j < ngates; j++ {
			if filter.Excluded(i, j) {
				kdp.Elements[kdp.Index1d(i, j)] = 0
				continue
			}
			if v := kdp.Get(i, j); v < c.KDPMin || v > c.KDPMax {
				kdp.Elements[kdp.Index1d(i, j)] = 0
			}
		}
	}
}
