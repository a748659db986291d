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

// Package dualpol corrects and derives polarimetric weather-radar
// moments (differential phase, specific differential phase, and
// attenuation on reflectivity and differential reflectivity) from raw
// per-sweep sample grids.
package dualpol

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// Version gives the version number of this version of DualPol.
const Version = "0.3.1"

// FillValue is the sentinel marking invalid or missing samples in
// fields that don't declare their own.
const FillValue = -9999.

// Names of the products emitted by a Processor.
const (
	UnfoldedPhaseField       = "unfolded_differential_phase"
	CorrectedPhaseField      = "corrected_differential_phase"
	KDPField                 = "specific_differential_phase"
	CorrectedZDRField        = "corrected_differential_reflectivity"
	CorrectedZHField         = "corrected_reflectivity"
	SpecificAttenuationField = "specific_attenuation"
	GaseousAttenuationField  = "atmospheric_gases_attenuation"
)

// A Sweep holds the moments measured during one antenna rotation.
// All fields share the same [ray, gate] grid and are positionally
// aligned gate-for-gate.
type Sweep struct {
	// ID identifies the sweep in error and log messages.
	ID string

	// Range is the distance of each gate center from the radar [m].
	// It must be strictly increasing with near-uniform spacing.
	Range []float64

	// Azimuth is the antenna pointing angle of each ray [degrees].
	Azimuth []float64

	// Elevation is the antenna elevation angle of each ray [degrees].
	Elevation []float64

	// Fields holds the measured moments, keyed by field name.
	Fields map[string]*FieldRecord
}

// NRays returns the number of rays in the sweep.
func (s *Sweep) NRays() int { return len(s.Azimuth) }

// NGates returns the number of range gates in each ray.
func (s *Sweep) NGates() int { return len(s.Range) }

// Field returns the field with the given name.
func (s *Sweep) Field(name string) (*FieldRecord, error) {
	f, ok := s.Fields[name]
	if !ok {
		return nil, fmt.Errorf("dualpol: sweep %s has no field %s", s.ID, name)
	}
	return f, nil
}

// GateSpacing returns the distance between the first two range
// gates [m].
func (s *Sweep) GateSpacing() float64 {
	if len(s.Range) < 2 {
		return 0
	}
	return s.Range[1] - s.Range[0]
}

// A FieldRecord is one moment grid together with the descriptive
// metadata the external catalog stores alongside it. Entries equal to
// FillValue are invalid and must never participate in arithmetic.
type FieldRecord struct {
	Data      *sparse.DenseArray
	LongName  string
	Units     string
	FillValue float64

	// ValidMin and ValidMax bound physically plausible values.
	// They only apply when HasBounds is true.
	ValidMin, ValidMax float64
	HasBounds          bool
}

// Valid reports whether the sample at [ray, gate] holds a usable
// measurement.
func (f *FieldRecord) Valid(ray, gate int) bool {
	v := f.Data.Get(ray, gate)
	return v != f.FillValue && !math.IsNaN(v)
}

// newRecord creates a FieldRecord for the named product, attaching
// the metadata the downstream catalog expects.
func newRecord(product string, data *sparse.DenseArray) *FieldRecord {
	r := &FieldRecord{Data: data, FillValue: FillValue}
	switch product {
	case UnfoldedPhaseField:
		r.LongName = "Unfolded differential propagation phase shift"
		r.Units = "deg"
	case CorrectedPhaseField:
		r.LongName = "Corrected differential propagation phase shift"
		r.Units = "deg"
	case KDPField:
		r.LongName = "Specific differential phase"
		r.Units = "deg/km"
	case CorrectedZDRField:
		r.LongName = "Attenuation corrected differential reflectivity"
		r.Units = "dB"
	case CorrectedZHField:
		r.LongName = "Attenuation corrected reflectivity"
		r.Units = "dBZ"
	case SpecificAttenuationField:
		r.LongName = "Specific attenuation"
		r.Units = "dB/km"
	case GaseousAttenuationField:
		r.LongName = "Atmospheric gases attenuation"
		r.Units = "dB"
		r.ValidMin = 0
		r.HasBounds = true
	default:
		r.LongName = product
	}
	return r
}

// A GateFilter marks gates excluded from valid-data consideration
// (noise, clutter, low correlation). It is assembled by the data
// provider; the correction algorithms only read it.
type GateFilter struct {
	excluded *sparse.DenseArrayInt
}

// NewGateFilter creates a filter with every gate included.
func NewGateFilter(nrays, ngates int) *GateFilter {
	return &GateFilter{excluded: sparse.ZerosDenseInt(nrays, ngates)}
}

// Shape returns the [rays, gates] dimensions of the filter.
func (g *GateFilter) Shape() []int { return g.excluded.Shape }

// ExcludeGate marks the gate at [ray, gate] as excluded.
func (g *GateFilter) ExcludeGate(ray, gate int) { g.excluded.Set(1, ray, gate) }

// Excluded reports whether the gate at [ray, gate] is excluded.
func (g *GateFilter) Excluded(ray, gate int) bool { return g.excluded.Get(ray, gate) != 0 }

// Included reports whether the gate at [ray, gate] is included.
func (g *GateFilter) Included(ray, gate int) bool { return g.excluded.Get(ray, gate) == 0 }

// ExcludeBelow excludes all gates where f is invalid or below lim.
func (g *GateFilter) ExcludeBelow(f *FieldRecord, lim float64) {
	nrays, ngates := g.excluded.Shape[0], g.excluded.Shape[1]
	for i := 0; i < nrays; i++ {
		for j := 0; j < ngates; j++ {
			if !f.Valid(i, j) || f.Data.Get(i, j) < lim {
				g.excluded.Set(1, i, j)
			}
		}
	}
}

// ExcludeInvalid excludes all gates holding f's fill value.
func (g *GateFilter) ExcludeInvalid(f *FieldRecord) {
	nrays, ngates := g.excluded.Shape[0], g.excluded.Shape[1]
	for i := 0; i < nrays; i++ {
		for j := 0; j < ngates; j++ {
			if !f.Valid(i, j) {
				g.excluded.Set(1, i, j)
			}
		}
	}
}

// zeroExcluded sets data to zero at every excluded gate.
// sparse.DenseArray.Set ignores zero values, so the writes go through
// Elements.
func zeroExcluded(data *sparse.DenseArray, filter *GateFilter) {
	nrays, ngates := data.Shape[0], data.Shape[1]
	for i := 0; i < nrays; i++ {
		for j := 0; j < ngates; j++ {
			if filter.Excluded(i, j) {
				data.Elements[data.Index1d(i, j)] = 0
			}
		}
	}
}

// A ShapeError indicates that two grids that are required to share a
// shape disagree. It is fatal for the sweep being processed because
// all of the grid math assumes positional alignment.
type ShapeError struct {
	Name      string
	Want, Got []int
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("dualpol: %s has shape %v but %v is required", e.Name, e.Got, e.Want)
}

// checkAlignment verifies that every field in the sweep, the gate
// filter, and the coordinate vectors agree on the grid shape, and
// that the range vector is strictly increasing.
func checkAlignment(s *Sweep, filter *GateFilter) error {
	want := []int{s.NRays(), s.NGates()}
	for name, f := range s.Fields {
		if f.Data.Shape[0] != want[0] || f.Data.Shape[1] != want[1] {
			return ShapeError{Name: "field " + name, Want: want, Got: f.Data.Shape}
		}
	}
	if fs := filter.Shape(); fs[0] != want[0] || fs[1] != want[1] {
		return ShapeError{Name: "gate filter", Want: want, Got: fs}
	}
	if len(s.Elevation) != s.NRays() {
		return ShapeError{Name: "elevation vector", Want: []int{s.NRays()},
			Got: []int{len(s.Elevation)}}
	}
	for j := 1; j < len(s.Range); j++ {
		if s.Range[j] <= s.Range[j-1] {
			return fmt.Errorf("dualpol: sweep %s: range vector is not strictly increasing at gate %d", s.ID, j)
		}
	}
	return nil
}
