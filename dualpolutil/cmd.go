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

// Package dualpolutil holds the configuration and command-line glue
// around the dualpol correction core.
package dualpolutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/lnashier/viper"
	"github.com/polarmodel/dualpol"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to DualPol.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "InputFiles",
			usage: `
              InputFiles specifies the sweep NetCDF files to process.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir specifies the directory the corrected sweep
              files are written to.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Fields",
			usage: `
              Fields maps the moment roles (reflectivity, correlation,
              phase, zdr) to the variable names used in the input
              files.`,
			defaultVal: map[string]string{
				"reflectivity": "DBZ",
				"correlation":  "RHOHV_CORR",
				"phase":        "PHIDP",
				"zdr":          "ZDR",
			},
			flagsets: []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Phase.UnfoldMethod",
			usage: `
              Phase.UnfoldMethod selects the phase unfolder: 'region'
              for the dealiasing transform or 'isotonic' for the
              slower monotonic regression fit.`,
			defaultVal: "region",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Phase.AutoDetectDomain",
			usage: `
              Phase.AutoDetectDomain decides per sweep whether the raw
              phase uses a 180- or 360-degree representation from the
              span of its samples.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Phase.HalfDomain",
			usage: `
              Phase.HalfDomain declares the raw phase to use a
              180-degree representation. Ignored when
              Phase.AutoDetectDomain is true.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Phase.HalfSpanThreshold",
			usage: `
              Phase.HalfSpanThreshold is the raw-signal span at or
              below which automatic detection decides on the
              180-degree representation.`,
			defaultVal: 200.0,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Phase.OffsetShift",
			usage: `
              Phase.OffsetShift is added to rays whose included-gate
              mean phase is negative.`,
			defaultVal: 90.0,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Phase.MinRange",
			usage: `
              Phase.MinRange is the distance from the radar [m] below
              which gates are zeroed by the isotonic unfolder.`,
			defaultVal: 5000.0,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "KDP.Method",
			usage: `
              KDP.Method selects the specific differential phase
              estimator: 'filter' for the smoothing-derivative filter
              or 'bringi' for the joint phase/KDP fit.`,
			defaultVal: "filter",
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "KDP.WindowLength",
			usage: `
              KDP.WindowLength is the odd length, in gates, of the
              derivative filter window.`,
			defaultVal: 35,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "KDP.Min",
			usage: `
              KDP.Min is the lower bound of the plausible KDP band
              [deg/km]; values below it are zeroed.`,
			defaultVal: -4.0,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "KDP.Max",
			usage: `
              KDP.Max is the upper bound of the plausible KDP band
              [deg/km]; values above it are zeroed.`,
			defaultVal: 15.0,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Attenuation.ZDRAlpha",
			usage: `
              Attenuation.ZDRAlpha is the differential reflectivity
              correction coefficient [dB per degree of differential
              phase].`,
			defaultVal: 0.016,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Attenuation.RhoHVMin",
			usage: `
              Attenuation.RhoHVMin is the copolar correlation below
              which gates are excluded from the reflectivity
              attenuation estimate.`,
			defaultVal: 0.3,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
		{
			name: "Attenuation.BandFactor",
			usage: `
              Attenuation.BandFactor scales the gaseous attenuation:
              1.2 for shorter wavelength bands, 1.0 for longer.`,
			defaultVal: 1.2,
			flagsets:   []*pflag.FlagSet{processCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("DUALPOL")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(processCmd)
}

// setConfig finds and reads in the configuration file, if there is
// one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("dualpol: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "dualpol",
	Short: "A polarimetric radar moment correction pipeline.",
	Long: `DualPol corrects differential phase, estimates specific differential
phase, and corrects rain and gaseous attenuation on reflectivity and
differential reflectivity for dual-polarization weather radar sweeps.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'DUALPOL_var' where 'var'
is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of DualPol.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("DualPol v%s\n", dualpol.Version)
	},
	DisableAutoGenTag: true,
}

// processCmd corrects a batch of sweep files.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Correct a batch of sweep files.",
	Long: `process reads each input sweep file, corrects and derives the
polarimetric moments, and writes the products next to the raw moments in the
output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ProcessorConfig(Cfg)
		if err != nil {
			return err
		}
		p, err := dualpol.NewProcessor(cfg)
		if err != nil {
			return err
		}
		log := logrus.StandardLogger()
		p.Log = log

		files := append(Cfg.GetStringSlice("InputFiles"), args...)
		if len(files) == 0 {
			return fmt.Errorf("dualpol: no input files; set the InputFiles configuration variable or pass file names as arguments")
		}
		outDir := Cfg.GetString("OutputDir")
		for _, file := range files {
			if err := processFile(p, cfg, file, outDir, log); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// processFile corrects a single sweep file.
func processFile(p *dualpol.Processor, cfg dualpol.Config, file, outDir string, log logrus.FieldLogger) error {
	s, err := dualpol.ReadSweep(file)
	if err != nil {
		return err
	}
	filter := dualpol.NewGateFilter(s.NRays(), s.NGates())
	if phase, err := s.Field(cfg.PhaseField); err == nil {
		filter.ExcludeInvalid(phase)
	}
	if rhohv, err := s.Field(cfg.RhoHVField); err == nil {
		filter.ExcludeBelow(rhohv, cfg.Attenuation.RhoHVMin)
	}

	products, err := p.Process(s, filter)
	if err != nil {
		return err
	}
	out := filepath.Join(outDir, s.ID+"_corrected.nc")
	if err := dualpol.WriteSweep(out, s, products); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"input":  file,
		"output": out,
	}).Info("wrote corrected sweep")
	return nil
}
