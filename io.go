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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// Names of the coordinate variables in sweep NetCDF files.
const (
	rangeVar     = "range"
	azimuthVar   = "azimuth"
	elevationVar = "elevation"
)

// ReadSweep reads a sweep from a NetCDF file holding the coordinate
// vectors "range", "azimuth", and "elevation" and one 2-D
// [ray, gate] variable per moment. On-disk radar exchange formats
// are out of scope; this reads the plain layout WriteSweep produces.
func ReadSweep(filename string) (*Sweep, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("dualpol: opening sweep file: %v", err)
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("dualpol: reading sweep file %s: %v", filename, err)
	}

	s := &Sweep{
		ID:     strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		Fields: make(map[string]*FieldRecord),
	}
	if s.Range, err = readVector(ff, rangeVar); err != nil {
		return nil, err
	}
	if s.Azimuth, err = readVector(ff, azimuthVar); err != nil {
		return nil, err
	}
	if s.Elevation, err = readVector(ff, elevationVar); err != nil {
		return nil, err
	}

	for _, v := range ff.Header.Variables() {
		if v == rangeVar || v == azimuthVar || v == elevationVar {
			continue
		}
		dims := ff.Header.Lengths(v)
		if len(dims) != 2 {
			continue
		}
		data, err := readGrid(ff, v, dims)
		if err != nil {
			return nil, err
		}
		s.Fields[v] = &FieldRecord{
			Data:      data,
			LongName:  attrString(ff, v, "long_name"),
			Units:     attrString(ff, v, "units"),
			FillValue: attrFloat(ff, v, "_FillValue", FillValue),
		}
	}
	return s, nil
}

// readVector reads a 1-D coordinate variable.
func readVector(ff *cdf.File, name string) ([]float64, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) != 1 {
		return nil, fmt.Errorf("dualpol: reading netcdf: coordinate variable %s not in file", name)
	}
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(dims[0])
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("dualpol: reading netcdf variable %s: %v", name, err)
	}
	return toFloats(buf), nil
}

// readGrid reads a 2-D moment variable into a dense array.
func readGrid(ff *cdf.File, name string, dims []int) (*sparse.DenseArray, error) {
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(dims[0] * dims[1])
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("dualpol: reading netcdf variable %s: %v", name, err)
	}
	data := sparse.ZerosDense(dims...)
	copy(data.Elements, toFloats(buf))
	return data, nil
}

// toFloats widens a buffer read from a NetCDF file to float64.
func toFloats(buf interface{}) []float64 {
	switch b := buf.(type) {
	case []float64:
		return b
	case []float32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o
	case []int32:
		o := make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
		return o
	}
	return nil
}

// attrString returns a text attribute, or "" when it is absent.
func attrString(ff *cdf.File, v, name string) string {
	switch a := ff.Header.GetAttribute(v, name).(type) {
	case string:
		return a
	case []byte:
		return string(a)
	}
	return ""
}

// attrFloat returns a numeric attribute, or fallback when it is
// absent.
func attrFloat(ff *cdf.File, v, name string, fallback float64) float64 {
	switch a := ff.Header.GetAttribute(v, name).(type) {
	case []float64:
		if len(a) > 0 {
			return a[0]
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0])
		}
	case float64:
		return a
	}
	return fallback
}

// WriteSweep writes coordinate vectors and the given fields to a
// NetCDF file, attaching each record's descriptive metadata.
func WriteSweep(filename string, s *Sweep, fields map[string]*FieldRecord) error {
	h := cdf.NewHeader([]string{"time", rangeVar}, []int{s.NRays(), s.NGates()})

	h.AddVariable(rangeVar, []string{rangeVar}, []float64{0})
	h.AddAttribute(rangeVar, "units", "meters")
	h.AddAttribute(rangeVar, "long_name", "range_to_measurement_volume")
	h.AddVariable(azimuthVar, []string{"time"}, []float64{0})
	h.AddAttribute(azimuthVar, "units", "degrees")
	h.AddVariable(elevationVar, []string{"time"}, []float64{0})
	h.AddAttribute(elevationVar, "units", "degrees")

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec := fields[name]
		h.AddVariable(name, []string{"time", rangeVar}, []float64{0})
		if rec.LongName != "" {
			h.AddAttribute(name, "long_name", rec.LongName)
		}
		if rec.Units != "" {
			h.AddAttribute(name, "units", rec.Units)
		}
		h.AddAttribute(name, "_FillValue", []float64{rec.FillValue})
		if rec.HasBounds {
			h.AddAttribute(name, "valid_min", []float64{rec.ValidMin})
			h.AddAttribute(name, "valid_max", []float64{rec.ValidMax})
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("dualpol: creating sweep netcdf file: %v", err)
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("dualpol: creating sweep file: %v", err)
	}
	defer f.Close()
	ff, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("dualpol: creating sweep netcdf file: %v", err)
	}

	if err := writeVector(ff, rangeVar, s.Range); err != nil {
		return err
	}
	if err := writeVector(ff, azimuthVar, s.Azimuth); err != nil {
		return err
	}
	if err := writeVector(ff, elevationVar, s.Elevation); err != nil {
		return err
	}
	for _, name := range names {
		w := ff.Writer(name, []int{0, 0}, []int{s.NRays(), s.NGates()})
		if _, err := w.Write(fields[name].Data.Elements); err != nil {
			return fmt.Errorf("dualpol: writing netcdf variable %s: %v", name, err)
		}
	}
	return nil
}

// writeVector writes a 1-D coordinate variable.
func writeVector(ff *cdf.File, name string, data []float64) error {
	w := ff.Writer(name, []int{0}, []int{len(data)})
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("dualpol: writing netcdf variable %s: %v", name, err)
	}
	return nil
}
