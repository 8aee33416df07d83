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

// Package engineer derives model features from an anchored visit table:
// treatment timelines, session to session deltas, cyclical calendar
// encodings, and dose adequacy ratios.
package engineer

import (
	"fmt"
	"math"

	"clindat/table"
	"clindat/utils"
)

// PalliativeIntent is the treatment intent value that advances the line of
// therapy counter.
const PalliativeIntent = "PALLIATIVE"

// LineOfTherapy appends a line_of_therapy column counting, per patient, the
// nth distinct palliative regimen seen so far. A new regimen is detected by a
// change in first_treatment_date between consecutive rows; rows before the
// first palliative regimen stay at 0. The input must be sorted by
// (mrn, date) and carry first_treatment_date and intent columns.
func LineOfTherapy(t *table.Table) error {
	firstTreat := t.Col("first_treatment_date")
	intent := t.Col("intent")
	if firstTreat == nil || firstTreat.Kind != table.Time {
		return fmt.Errorf("engineer: LineOfTherapy needs a first_treatment_date date column")
	}
	if intent == nil || intent.Kind != table.String {
		return fmt.Errorf("engineer: LineOfTherapy needs an intent string column")
	}
	groups, err := t.Groups()
	if err != nil {
		return err
	}
	lot := table.NewFloatColumn("line_of_therapy", t.Len())
	for _, g := range groups {
		line := 0
		for i := g.Start; i < g.End; i++ {
			newRegimen := i == g.Start || !firstTreat.Times[i].Equal(firstTreat.Times[i-1])
			if newRegimen && intent.Strings[i] == PalliativeIntent {
				line++
			}
			lot.Floats[i] = float64(line)
		}
	}
	return t.AddCol(lot)
}

// DaysSinceStartingTreatment appends days_since_starting_treatment, the day
// count from each row's first_treatment_date to its reference date. Rows with
// a null first_treatment_date stay null.
func DaysSinceStartingTreatment(t *table.Table) error {
	firstTreat := t.Col("first_treatment_date")
	if firstTreat == nil || firstTreat.Kind != table.Time {
		return fmt.Errorf("engineer: DaysSinceStartingTreatment needs a first_treatment_date date column")
	}
	days := table.NewFloatColumn("days_since_starting_treatment", t.Len())
	for i := 0; i < t.Len(); i++ {
		if firstTreat.IsNull(i) {
			continue
		}
		days.Floats[i] = float64(utils.DaysBetween(t.Dates[i], firstTreat.Times[i]))
	}
	return t.AddCol(days)
}

// AnchorMode selects how DaysSinceLastTreatment interprets its inputs. The
// two cases produce different semantics and must not be inferred from the
// data, so callers state which one they mean.
type AnchorMode int

const (
	// TreatmentAnchored means the rows themselves are treatment sessions; the
	// delta is taken against the previous session of the same patient.
	TreatmentAnchored AnchorMode = iota
	// ExternalAnchored means the rows are anchored on some other date and
	// carry a matched treatment date column; the delta is reference date
	// minus that matched date.
	ExternalAnchored
)

// DaysSinceLastTreatment appends days_since_last_treatment. In
// TreatmentAnchored mode treatmentDateCol is ignored and the first session of
// each patient stays null. In ExternalAnchored mode rows with a null matched
// treatment date stay null.
func DaysSinceLastTreatment(t *table.Table, mode AnchorMode, treatmentDateCol string) error {
	days := table.NewFloatColumn("days_since_last_treatment", t.Len())
	switch mode {
	case TreatmentAnchored:
		groups, err := t.Groups()
		if err != nil {
			return err
		}
		for _, g := range groups {
			for i := g.Start + 1; i < g.End; i++ {
				days.Floats[i] = float64(utils.DaysBetween(t.Dates[i], t.Dates[i-1]))
			}
		}
	case ExternalAnchored:
		treat := t.Col(treatmentDateCol)
		if treat == nil || treat.Kind != table.Time {
			return fmt.Errorf("engineer: DaysSinceLastTreatment needs date column %q", treatmentDateCol)
		}
		for i := 0; i < t.Len(); i++ {
			if treat.IsNull(i) {
				continue
			}
			days.Floats[i] = float64(utils.DaysBetween(t.Dates[i], treat.Times[i]))
		}
	default:
		return fmt.Errorf("engineer: unknown anchor mode %v", mode)
	}
	return t.AddCol(days)
}

// ChangeSincePrevSession appends a {col}_change column for every listed float
// column, holding the difference against the same patient's previous row.
// Columns absent from the table are skipped; the first row of each patient
// stays null, as does any row whose current or previous value is null.
func ChangeSincePrevSession(t *table.Table, cols []string) error {
	groups, err := t.Groups()
	if err != nil {
		return err
	}
	for _, name := range cols {
		c := t.Col(name)
		if c == nil {
			continue
		}
		if c.Kind != table.Float {
			return fmt.Errorf("engineer: ChangeSincePrevSession on non-float column %q", name)
		}
		change := table.NewFloatColumn(name+"_change", t.Len())
		for _, g := range groups {
			for i := g.Start + 1; i < g.End; i++ {
				change.Floats[i] = c.Floats[i] - c.Floats[i-1]
			}
		}
		if err := t.AddCol(change); err != nil {
			return err
		}
	}
	return nil
}

// VisitMonthFeatures appends visit_month_sin and visit_month_cos, a cyclical
// encoding of the reference date's calendar month.
func VisitMonthFeatures(t *table.Table) error {
	sin := table.NewFloatColumn("visit_month_sin", t.Len())
	cos := table.NewFloatColumn("visit_month_cos", t.Len())
	for i := 0; i < t.Len(); i++ {
		month := float64(int(t.Dates[i].Month()) - 1)
		sin.Floats[i] = math.Sin(2 * math.Pi * month / 12)
		cos.Floats[i] = math.Cos(2 * math.Pi * month / 12)
	}
	if err := t.AddCol(sin); err != nil {
		return err
	}
	return t.AddCol(cos)
}
