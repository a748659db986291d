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

package dualpolutil

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lnashier/viper"
	"github.com/polarmodel/dualpol"
	"github.com/spf13/cast"
)

// ProcessorConfig assembles a dualpol.Config from the configuration
// information in cfg.
func ProcessorConfig(cfg *viper.Viper) (dualpol.Config, error) {
	c := dualpol.DefaultConfig()

	fields := GetStringMapString("Fields", cfg)
	if v, ok := fields["reflectivity"]; ok {
		c.ReflectivityField = v
	}
	if v, ok := fields["correlation"]; ok {
		c.RhoHVField = v
	}
	if v, ok := fields["phase"]; ok {
		c.PhaseField = v
	}
	if v, ok := fields["zdr"]; ok {
		c.ZDRField = v
	}

	c.UnfoldMethod = cfg.GetString("Phase.UnfoldMethod")
	c.KDPMethod = cfg.GetString("KDP.Method")
	c.AutoDetectDomain = cfg.GetBool("Phase.AutoDetectDomain")
	if cfg.GetBool("Phase.HalfDomain") {
		c.Phase.Domain = dualpol.DomainHalf
	}
	c.Phase.HalfSpanThreshold = cfg.GetFloat64("Phase.HalfSpanThreshold")
	c.Phase.OffsetShift = cfg.GetFloat64("Phase.OffsetShift")
	c.Phase.MinRange = cfg.GetFloat64("Phase.MinRange")

	c.KDP.WindowLength = cfg.GetInt("KDP.WindowLength")
	c.KDP.KDPMin = cfg.GetFloat64("KDP.Min")
	c.KDP.KDPMax = cfg.GetFloat64("KDP.Max")

	c.Attenuation.ZDRAlpha = cfg.GetFloat64("Attenuation.ZDRAlpha")
	c.Attenuation.RhoHVMin = cfg.GetFloat64("Attenuation.RhoHVMin")
	c.Attenuation.BandFactor = cfg.GetFloat64("Attenuation.BandFactor")

	if c.KDP.KDPMin >= c.KDP.KDPMax {
		return c, fmt.Errorf("dualpol: the KDP.Min configuration variable (%g) must be less than KDP.Max (%g)",
			c.KDP.KDPMin, c.KDP.KDPMax)
	}
	return c, nil
}

// GetStringMapString returns a map of strings from a viper
// configuration, decoding JSON when the value arrived as a
// command-line flag.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for GetStringMapString variable %s: %#v", varName, i))
	}
}
