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

	"github.com/sirupsen/logrus"
)

// Config specifies which input fields a Processor reads and which
// strategies and constants it applies.
type Config struct {
	// Names of the raw input moments.
	ReflectivityField string
	RhoHVField        string
	PhaseField        string
	ZDRField          string

	// UnfoldMethod selects the phase unfolder: "region" (default)
	// or "isotonic".
	UnfoldMethod string

	// KDPMethod selects the specific differential phase estimator:
	// "filter" (default) or "bringi".
	KDPMethod string

	// AutoDetectDomain applies the span heuristic to each sweep to
	// choose between half- and full-range phase representations,
	// overriding Phase.Domain.
	AutoDetectDomain bool

	Phase       PhaseConfig
	KDP         KDPConfig
	Attenuation AttenuationConfig
}

// DefaultConfig returns the configuration used for operational
// C-band processing.
func DefaultConfig() Config {
	return Config{
		ReflectivityField: "DBZ",
		RhoHVField:        "RHOHV_CORR",
		PhaseField:        "PHIDP",
		ZDRField:          "ZDR",
		UnfoldMethod:      "region",
		KDPMethod:         "filter",
		Phase:             DefaultPhaseConfig(),
		KDP:               DefaultKDPConfig(),
		Attenuation:       DefaultAttenuationConfig(),
	}
}

// A Processor runs the correction pipeline for one sweep at a time:
// phase unfolding, specific differential phase estimation, phase
// reconciliation, and attenuation correction. Each stage consumes
// immutable inputs and produces new grids.
type Processor struct {
	Config Config

	// Unfolder and Estimator override the strategies selected by
	// Config when non-nil.
	Unfolder  PhaseUnfolder
	Estimator KDPEstimator

	// Log receives progress information.
	Log logrus.FieldLogger
}

// NewProcessor creates a Processor, checking that the configured
// strategy names are recognized.
func NewProcessor(c Config) (*Processor, error) {
	switch c.UnfoldMethod {
	case "", "region", "isotonic":
	default:
		return nil, fmt.Errorf("dualpol: unknown unfold method %q (want region or isotonic)", c.UnfoldMethod)
	}
	switch c.KDPMethod {
	case "", "filter", "bringi":
	default:
		return nil, fmt.Errorf("dualpol: unknown KDP method %q (want filter or bringi)", c.KDPMethod)
	}
	return &Processor{Config: c, Log: logrus.StandardLogger()}, nil
}

// Process corrects one sweep and returns the derived products keyed
// by product name. A shape mismatch aborts the sweep with no partial
// product; degenerate rays and out-of-band values yield a complete,
// partially masked product.
func (p *Processor) Process(s *Sweep, filter *GateFilter) (map[string]*FieldRecord, error) {
	if err := checkAlignment(s, filter); err != nil {
		return nil, fmt.Errorf("dualpol: sweep %s: validating grids: %v", s.ID, err)
	}
	phidpRaw, err := s.Field(p.Config.PhaseField)
	if err != nil {
		return nil, err
	}
	refl, err := s.Field(p.Config.ReflectivityField)
	if err != nil {
		return nil, err
	}
	rhohv, err := s.Field(p.Config.RhoHVField)
	if err != nil {
		return nil, err
	}

	pc := p.Config.Phase
	if p.Config.AutoDetectDomain {
		pc.Domain = DetectPhaseDomain(phidpRaw, pc)
	}
	unfolder := p.Unfolder
	if unfolder == nil {
		if p.Config.UnfoldMethod == "isotonic" {
			unfolder = IsotonicUnfolding(pc)
		} else {
			unfolder = RegionUnfolding(pc)
		}
	}
	estimator := p.Estimator
	if estimator == nil {
		if p.Config.KDPMethod == "bringi" {
			estimator = BringiFit(p.Config.KDP)
		} else {
			estimator = FilteredDifference(p.Config.KDP)
		}
	}

	unfolded, err := unfolder(s, phidpRaw, filter)
	if err != nil {
		return nil, fmt.Errorf("dualpol: sweep %s: unfolding phase: %v", s.ID, err)
	}

	kdpRaw, phaseRefit, err := estimator(s.Range, unfolded, refl, filter)
	if err != nil {
		return nil, fmt.Errorf("dualpol: sweep %s: estimating specific differential phase: %v", s.ID, err)
	}

	// Joint estimators refit the phase along with its derivative;
	// integrate from the refit when one is available. Fill values
	// must not leak into the integration.
	phaseIn := unfolded
	if phaseRefit != nil {
		phaseIn = phaseRefit.Copy()
		for k, v := range phaseIn.Elements {
			if v == FillValue {
				phaseIn.Elements[k] = 0
			}
		}
	}
	// Half-range sweeps were doubled for unfolding; return to the
	// original units before the band clamp judges the values.
	if pc.Domain == DomainHalf {
		unfolded.Scale(0.5)
		if phaseIn != unfolded {
			phaseIn.Scale(0.5)
		}
		kdpRaw.Scale(0.5)
	}
	phaseCorr, kdpClean := ReconcilePhase(phaseIn, kdpRaw, s.Range, filter, p.Config.KDP)
	zeroExcluded(phaseCorr, filter)

	products := map[string]*FieldRecord{
		UnfoldedPhaseField:  newRecord(UnfoldedPhaseField, unfolded),
		CorrectedPhaseField: newRecord(CorrectedPhaseField, phaseCorr),
		KDPField:            newRecord(KDPField, kdpClean),
	}

	if zdr, ok := s.Fields[p.Config.ZDRField]; ok {
		zdrCorr, err := CorrectZDR(zdr, phaseCorr, p.Config.Attenuation)
		if err != nil {
			return nil, fmt.Errorf("dualpol: sweep %s: correcting differential reflectivity: %v", s.ID, err)
		}
		products[CorrectedZDRField] = zdrCorr
	}

	specAtten, zhCorr, err := CorrectZH(refl, rhohv, phaseCorr, s.Range, filter, p.Config.Attenuation)
	if err != nil {
		return nil, fmt.Errorf("dualpol: sweep %s: correcting reflectivity attenuation: %v", s.ID, err)
	}
	products[SpecificAttenuationField] = specAtten
	products[CorrectedZHField] = zhCorr
	products[GaseousAttenuationField] = GaseousAttenuation(s.Range, s.Elevation, p.Config.Attenuation)

	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"sweep":   s.ID,
		"rays":    s.NRays(),
		"gates":   s.NGates(),
		"spacing": s.GateSpacing(),
	}).Info("processed sweep")
	return products, nil
}
