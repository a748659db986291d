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
	"math"
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat"
)

// AttenuationConfig holds the empirical coefficients of the
// attenuation corrections.
type AttenuationConfig struct {
	// ZDRAlpha is the differential reflectivity correction
	// coefficient [dB per degree of differential phase],
	// from Bringi et al. (2001).
	ZDRAlpha float64

	// RhoHVMin is the copolar correlation below which a gate is
	// excluded from the reflectivity attenuation estimate.
	RhoHVMin float64

	// ACoef and Beta parameterize the self-consistent constrained
	// inversion used for reflectivity attenuation.
	ACoef, Beta float64

	// BandFactor scales the gaseous attenuation: 1.2 for shorter
	// wavelength bands (C), 1.0 for longer (S).
	BandFactor float64

	// MaxElevation is the antenna elevation [degrees] above which
	// the gaseous attenuation model is invalid and the correction
	// is zero.
	MaxElevation float64
}

// DefaultAttenuationConfig returns the coefficients used for
// operational C-band processing.
func DefaultAttenuationConfig() AttenuationConfig {
	return AttenuationConfig{
		ZDRAlpha:     0.016,
		RhoHVMin:     0.3,
		ACoef:        0.06,
		Beta:         0.8,
		BandFactor:   1.2,
		MaxElevation: 10,
	}
}

// CorrectZDR corrects rain attenuation on differential reflectivity
// by a linear add of c.ZDRAlpha times the corrected differential
// phase. Gates where zdr is invalid keep the fill value.
func CorrectZDR(zdr *FieldRecord, phidp *sparse.DenseArray, c AttenuationConfig) (*FieldRecord, error) {
	if zdr.Data.Shape[0] != phidp.Shape[0] || zdr.Data.Shape[1] != phidp.Shape[1] {
		return nil, ShapeError{Name: "differential reflectivity", Want: phidp.Shape, Got: zdr.Data.Shape}
	}
	nrays, ngates := zdr.Data.Shape[0], zdr.Data.Shape[1]
	out := sparse.ZerosDense(nrays, ngates)
	for i := 0; i < nrays; i++ {
		for j := 0; j < ngates; j++ {
			if !zdr.Valid(i, j) {
				out.Set(FillValue, i, j)
				continue
			}
			out.Set(zdr.Data.Get(i, j)+c.ZDRAlpha*phidp.Get(i, j), i, j)
		}
	}
	return newRecord(CorrectedZDRField, out), nil
}

// CorrectZH corrects rain attenuation on reflectivity with a
// self-consistent constrained inversion: the total path attenuation
// of each ray is pinned to its path-integrated differential phase and
// redistributed along the ray proportionally to linearized
// reflectivity. Gates excluded by the filter, or whose copolar
// correlation is below c.RhoHVMin, do not participate; the specific
// attenuation there is the fill value (zero where the gate filter
// excludes the gate). Both the specific attenuation field and the
// corrected reflectivity field are returned.
func CorrectZH(refl, rhohv *FieldRecord, phidp *sparse.DenseArray, rng []float64, filter *GateFilter, c AttenuationConfig) (specAtten, zhCorr *FieldRecord, err error) {
	if refl.Data.Shape[0] != phidp.Shape[0] || refl.Data.Shape[1] != phidp.Shape[1] {
		return nil, nil, ShapeError{Name: "reflectivity", Want: phidp.Shape, Got: refl.Data.Shape}
	}
	if rhohv.Data.Shape[0] != phidp.Shape[0] || rhohv.Data.Shape[1] != phidp.Shape[1] {
		return nil, nil, ShapeError{Name: "copolar correlation", Want: phidp.Shape, Got: rhohv.Data.Shape}
	}
	if len(rng) < 2 {
		return nil, nil, fmt.Errorf("dualpol: at least two range gates are required, got %d", len(rng))
	}

	nrays, ngates := refl.Data.Shape[0], refl.Data.Shape[1]
	dr := (rng[1] - rng[0]) / 1000 // [km]
	sa := sparse.ZerosDense(nrays, ngates)
	zh := sparse.ZerosDense(nrays, ngates)

	reflLin := make([]float64, ngates)
	iIndef := make([]float64, ngates)
	valid := make([]bool, ngates)
	for i := 0; i < nrays; i++ {
		var validIdx []int
		for j := 0; j < ngates; j++ {
			valid[j] = filter.Included(i, j) && refl.Valid(i, j) && rhohv.Valid(i, j) &&
				rhohv.Data.Get(i, j) >= c.RhoHVMin
			if valid[j] {
				validIdx = append(validIdx, j)
			}
		}
		if len(validIdx) < 6 {
			// Not enough reliable gates to constrain the inversion;
			// pass the ray through uncorrected. Zero writes go through
			// Elements because sparse.DenseArray.Set ignores them.
			for j := 0; j < ngates; j++ {
				if filter.Excluded(i, j) {
					sa.Elements[sa.Index1d(i, j)] = 0
					zh.Elements[zh.Index1d(i, j)] = 0
				} else {
					sa.Set(FillValue, i, j)
					zh.Elements[zh.Index1d(i, j)] = refl.Data.Get(i, j)
				}
			}
			continue
		}

		// The ray's total phase shift is the median differential
		// phase of its last six reliable gates.
		tail := make([]float64, 6)
		for k := 0; k < 6; k++ {
			tail[k] = phidp.Get(i, validIdx[len(validIdx)-6+k])
		}
		sort.Float64s(tail)
		phidpMax := stat.Quantile(0.5, stat.Empirical, tail, nil)

		for j := 0; j < ngates; j++ {
			if valid[j] {
				reflLin[j] = math.Pow(10, 0.1*c.Beta*refl.Data.Get(i, j))
			} else {
				reflLin[j] = 0
			}
		}

		// Indefinite integral of linearized reflectivity from each
		// gate to the far end of the ray.
		iIndef[ngates-1] = 0
		for j := ngates - 2; j >= 0; j-- {
			iIndef[j] = iIndef[j+1] + 0.46*c.Beta*0.5*(reflLin[j]+reflLin[j+1])*dr
		}
		iIndef[ngates-1] = iIndef[ngates-2]

		selfCons := math.Pow(10, 0.1*c.Beta*c.ACoef*phidpMax) - 1

		acc := 0.    // cumulative two-way attenuation [dB]
		prevSA := 0. // specific attenuation at the previous gate
		for j := 0; j < ngates; j++ {
			var sAtten float64
			if denom := iIndef[0] + selfCons*iIndef[j]; denom > 0 && reflLin[j] > 0 {
				sAtten = reflLin[j] * selfCons / denom
			}
			if j > 0 {
				acc += 0.5 * (sAtten + prevSA) * dr * 2
			}
			prevSA = sAtten

			switch {
			case filter.Excluded(i, j):
				sa.Elements[sa.Index1d(i, j)] = 0
				zh.Elements[zh.Index1d(i, j)] = 0
			case reflLin[j] == 0:
				sa.Set(FillValue, i, j)
				if refl.Valid(i, j) {
					zh.Elements[zh.Index1d(i, j)] = refl.Data.Get(i, j) + acc
				} else {
					zh.Set(FillValue, i, j)
				}
			default:
				sa.Elements[sa.Index1d(i, j)] = sAtten
				zh.Elements[zh.Index1d(i, j)] = refl.Data.Get(i, j) + acc
			}
		}
	}
	return newRecord(SpecificAttenuationField, sa), newRecord(CorrectedZHField, zh), nil
}

// GaseousAttenuation computes the two-way attenuation by atmospheric
// gases with the Doviak and Zrnic two-term exponential model
// (eq. 3.19 p. 44). The fit is valid for elevations of at most
// c.MaxElevation degrees and ranges up to 200 km; above the valid
// elevation the correction is zero. The result is scaled by
// c.BandFactor.
func GaseousAttenuation(rng, elevation []float64, c AttenuationConfig) *FieldRecord {
	nrays, ngates := len(elevation), len(rng)
	out := sparse.ZerosDense(nrays, ngates)
	for i := 0; i < nrays; i++ {
		theta := elevation[i]
		if theta > c.MaxElevation {
			continue
		}
		gas1 := 0.4 + 3.45*math.Exp(-theta/1.8)
		gas2 := 27.8 + 154*math.Exp(-theta/2.2)
		for j := 0; j < ngates; j++ {
			rkm := rng[j] / 1000
			out.Set(c.BandFactor*gas1*(1-math.Exp(-rkm/gas2)), i, j)
		}
	}
	return newRecord(GaseousAttenuationField, out)
}
