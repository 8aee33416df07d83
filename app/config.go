// CLINDAT: Clinical Dataset Anchoring Library
// Copyright (c) 2025 the clindat authors.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License along with this program. If not, see
// <https://www.gnu.org/licenses/>.

package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"clindat/anchor"
)

// Span is a day window written in YAML as a two element list, for example
// [-30, 0] for the thirty days up to and including the reference date.
type Span struct {
	Lower int
	Upper int
}

// UnmarshalYAML decodes a [lower, upper] list.
func (s *Span) UnmarshalYAML(value *yaml.Node) error {
	var pair [2]int
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("config: window must be a [lower, upper] list: %w", err)
	}
	s.Lower, s.Upper = pair[0], pair[1]
	return nil
}

// Window converts the span to an anchoring window.
func (s Span) Window() anchor.Window {
	return anchor.Window{Lower: s.Lower, Upper: s.Upper}
}

// Config holds the tunable parameters of a curation run.
type Config struct {
	// Lookback windows, in days relative to the reference date, for pulling
	// each source onto the reference table.
	TreatmentLookback Span `yaml:"trt_lookback_window"`
	SymptomLookback   Span `yaml:"symp_lookback_window"`
	LabLookback       Span `yaml:"lab_lookback_window"`

	// EDVisitLookbackYears bounds the emergency department visit recency
	// features.
	EDVisitLookbackYears int `yaml:"ed_visit_lookback_window"`

	// Lookahead horizons, in days after the reference date, for the label
	// rules.
	LabelLookaheadDays int   `yaml:"label_lookahead_window"`
	DeathHorizons      []int `yaml:"death_lookahead_windows"`

	// SymptomPointChange is the ESAS score increase that counts as
	// deterioration; SymptomCols lists the symptom columns to label.
	SymptomPointChange int      `yaml:"symp_change_threshold"`
	SymptomCols        []string `yaml:"symp_cols"`

	// LabChangeCols and SymptomChangeCols list the columns that get a
	// change-since-previous-session feature.
	LabChangeCols []string `yaml:"lab_change_cols"`

	// ULNOverrides replaces the default upper limit of normal per adverse
	// event, for sites whose reference ranges differ.
	ULNOverrides map[string]float64 `yaml:"uln_overrides"`

	// Weekly reference table bounds, used with --align-on weekly-mondays.
	WeeklyStart string `yaml:"weekly_start"`
	WeeklyEnd   string `yaml:"weekly_end"`
}

// DefaultConfig returns the parameters used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		TreatmentLookback:    Span{Lower: -28, Upper: 0},
		SymptomLookback:      Span{Lower: -30, Upper: 0},
		LabLookback:          Span{Lower: -7, Upper: 0},
		EDVisitLookbackYears: 5,
		LabelLookaheadDays:   30,
		DeathHorizons:        []int{30, 365},
		SymptomPointChange:   3,
		SymptomCols: []string{
			"pain", "tiredness", "nausea", "depression", "anxiety",
			"drowsiness", "appetite", "wellbeing", "shortness_of_breath",
		},
		LabChangeCols: []string{
			"hemoglobin", "neutrophil", "platelet", "creatinine",
			"alanine_aminotransferase", "aspartate_aminotransferase",
			"total_bilirubin",
		},
		WeeklyStart: "2018-01-01",
		WeeklyEnd:   "2018-12-31",
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	for name, s := range map[string]Span{
		"trt_lookback_window":  cfg.TreatmentLookback,
		"symp_lookback_window": cfg.SymptomLookback,
		"lab_lookback_window":  cfg.LabLookback,
	} {
		if err := s.Window().Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.EDVisitLookbackYears < 1 {
		return fmt.Errorf("ed_visit_lookback_window must be positive, got %d", cfg.EDVisitLookbackYears)
	}
	if cfg.LabelLookaheadDays < 1 {
		return fmt.Errorf("label_lookahead_window must be positive, got %d", cfg.LabelLookaheadDays)
	}
	for _, d := range cfg.DeathHorizons {
		if d < 1 {
			return fmt.Errorf("death_lookahead_windows must be positive, got %d", d)
		}
	}
	if cfg.SymptomPointChange < 1 || cfg.SymptomPointChange > 10 {
		return fmt.Errorf("symp_change_threshold must be in [1, 10], got %d", cfg.SymptomPointChange)
	}
	return nil
}
