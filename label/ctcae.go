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

// Package label derives prediction targets from an anchored visit table.
// Every label column is three-valued: 1 for a positive outcome, 0 for a
// negative one, and -1 when the outcome cannot be determined for that row
// (missing lookahead data, censoring, or an explicit exclusion rule).
package label

import (
	"fmt"
	"sort"

	"clindat/anchor"
	"clindat/table"
)

// Label values shared by every rule in this package.
const (
	Positive = 1
	Negative = 0
	Excluded = -1
)

// CTCAEConstants holds the grading thresholds of one adverse event, after
// CTCAE v5.0. For the cytopenia labs (hemoglobin, neutrophil, platelet) the
// grade thresholds are absolute values the lab must drop below. For the rest
// they are multipliers on the baseline, where the baseline is the patient's
// own value when abnormal and the upper limit of normal (ULN) otherwise.
type CTCAEConstants struct {
	// Lab names the main and lab table column holding the measurement.
	Lab string
	// Decrease marks labs where the adverse event is the value dropping.
	Decrease   bool
	Grade2Plus float64
	Grade3Plus float64
	ULN        float64
}

// DefaultCTCAEConstants returns the CTCAE v5.0 thresholds for the adverse
// events this package grades. Callers with site-specific reference ranges
// can adjust the ULN entries before passing the map to CTCAE.
func DefaultCTCAEConstants() map[string]CTCAEConstants {
	return map[string]CTCAEConstants{
		"hemoglobin": {Lab: "hemoglobin", Decrease: true, Grade2Plus: 100, Grade3Plus: 80},
		"neutrophil": {Lab: "neutrophil", Decrease: true, Grade2Plus: 1.5, Grade3Plus: 1.0},
		"platelet":   {Lab: "platelet", Decrease: true, Grade2Plus: 75, Grade3Plus: 50},
		"bilirubin":  {Lab: "total_bilirubin", Grade2Plus: 1.5, Grade3Plus: 3.0, ULN: 22.0},
		"AKI":        {Lab: "creatinine", Grade2Plus: 1.5, Grade3Plus: 3.0, ULN: 353.68},
		"ALT":        {Lab: "alanine_aminotransferase", Grade2Plus: 3.0, Grade3Plus: 5.0, ULN: 40.0},
		"AST":        {Lab: "aspartate_aminotransferase", Grade2Plus: 3.0, Grade3Plus: 5.0, ULN: 34.0},
	}
}

// CTCAE grades adverse lab events over a lookahead window. For every main
// row it takes the worst lab value in (reference date, reference date +
// lookaheadDays] and compares it against the grading threshold, yielding
// target_{event}_grade2plus and target_{event}_grade3plus columns. The worst
// lookahead values themselves are kept as target_{lab}_min or
// target_{lab}_max columns. Rows with no in-window measurement of a lab get
// -1 for its labels. Events whose lab column is absent from the lab table
// are skipped. The baseline value is read from main's own lab column; a
// missing baseline falls back to the ULN.
func CTCAE(main, lab *table.Table, lookaheadDays int, consts map[string]CTCAEConstants) (*table.Table, error) {
	if lookaheadDays < 1 {
		return nil, fmt.Errorf("label: CTCAE lookahead of %d days", lookaheadDays)
	}
	worst, err := anchor.Aggregate(main, lab, anchor.AggOpts{
		Stats:           []anchor.Stat{anchor.Min, anchor.Max},
		Window:          anchor.Window{Lower: 1, Upper: lookaheadDays},
		IncludeMeasDate: true,
	})
	if err != nil {
		return nil, err
	}

	result := main.Clone()
	for _, c := range worst.Cols[len(main.Cols):] {
		c.Name = "target_" + lowerSuffix(c.Name)
	}
	events := make([]string, 0, len(consts))
	for event := range consts {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		cc := consts[event]
		var lookahead *table.Column
		if cc.Decrease {
			lookahead = worst.Col("target_" + cc.Lab + "_min")
		} else {
			lookahead = worst.Col("target_" + cc.Lab + "_max")
		}
		if lookahead == nil {
			continue
		}
		baseline := main.Col(cc.Lab)
		for _, grade := range []struct {
			name      string
			threshold float64
		}{
			{"grade2plus", cc.Grade2Plus},
			{"grade3plus", cc.Grade3Plus},
		} {
			target := table.NewFloatColumn(fmt.Sprintf("target_%s_%s", event, grade.name), main.Len())
			for i := range target.Floats {
				if lookahead.IsNull(i) {
					target.Floats[i] = Excluded
					continue
				}
				if cc.Decrease {
					target.Floats[i] = asLabel(lookahead.Floats[i] < grade.threshold)
					continue
				}
				base := cc.ULN
				if baseline != nil && !baseline.IsNull(i) {
					// an already abnormal baseline replaces the ULN, except
					// for kidney injury where the baseline is capped at it
					if event == "AKI" {
						base = min(baseline.Floats[i], cc.ULN)
					} else {
						base = max(baseline.Floats[i], cc.ULN)
					}
				}
				target.Floats[i] = asLabel(lookahead.Floats[i] > grade.threshold*base)
			}
			if err := result.AddCol(target); err != nil {
				return nil, err
			}
		}
	}

	// carry the renamed lookahead values after the discrete labels
	for _, c := range worst.Cols[len(main.Cols):] {
		if err := result.AddCol(c); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func asLabel(positive bool) float64 {
	if positive {
		return Positive
	}
	return Negative
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// lowerSuffix lowercases the aggregate suffix of a column name, turning
// hemoglobin_MIN into hemoglobin_min.
func lowerSuffix(name string) string {
	for _, s := range []struct{ from, to string }{
		{"_MIN_date", "_min_date"},
		{"_MAX_date", "_max_date"},
		{"_MIN", "_min"},
		{"_MAX", "_max"},
	} {
		if len(name) >= len(s.from) && name[len(name)-len(s.from):] == s.from {
			return name[:len(name)-len(s.from)] + s.to
		}
	}
	return name
}
