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
	"strings"
	"time"

	"clindat/anchor"
	"clindat/engineer"
	"clindat/table"
	"clindat/utils"
)

// CombineDemographic joins the per-patient demographic table onto the
// reference table and derives the age dependent features. Rows with a
// missing birth date and rows of patients under 18 at the reference date are
// excluded, with counts logged. Cancer site and morphology diagnosis date
// columns are converted to indicators: 1 when the diagnosis predates the
// reference date, 0 when it does not, null when the patient never had that
// diagnosis.
func CombineDemographic(main, dmg *table.Table) (*table.Table, error) {
	df, err := table.JoinOnMRN(main, dmg)
	if err != nil {
		return nil, err
	}

	birth := df.Col("date_of_birth")
	if birth == nil || birth.Kind != table.Time {
		return nil, fmt.Errorf("app: demographic table has no date_of_birth column")
	}
	df = excludeRows(df, "missing birth date", func(i int) bool {
		return !birth.IsNull(i)
	})

	birth = df.Col("date_of_birth")
	age := table.NewFloatColumn("age", df.Len())
	for i := range age.Floats {
		age.Floats[i] = float64(utils.YearsBetween(df.Dates[i], birth.Times[i]))
	}
	if err := df.AddCol(age); err != nil {
		return nil, err
	}
	age = df.Col("age")
	df = excludeRows(df, "under 18 years of age", func(i int) bool {
		return age.Floats[i] >= 18
	})

	for _, c := range df.Cols {
		if c.Kind != table.Time {
			continue
		}
		if !strings.Contains(c.Name, "cancer_site") && !strings.Contains(c.Name, "morphology") {
			continue
		}
		ind := table.NewFloatColumn(c.Name, df.Len())
		for i := range ind.Floats {
			if c.IsNull(i) {
				continue
			}
			ind.Floats[i] = boolToFloat(c.Times[i].Before(df.Dates[i]))
		}
		// swap the date column for its indicator in place
		*c = *ind
	}
	return df, nil
}

// excludeRows drops the rows failing keep and logs how many rows and
// patients were excluded.
func excludeRows(df *table.Table, context string, keep func(i int) bool) *table.Table {
	kept := df.FilterRows(keep)
	if dropped := df.Len() - kept.Len(); dropped > 0 {
		Log.WithFields(map[string]interface{}{
			"rows":     dropped,
			"patients": len(df.MRNSet()) - len(kept.MRNSet()),
			"reason":   context,
		}).Info("excluded rows")
	}
	return kept
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// CombineTreatment pulls treatment session information onto a reference
// table that is not itself treatment anchored. Drug dosage columns
// (drug_ prefixed) are summed over the lookback window, since a patient may
// receive several sessions of a drug in it. All other treatment columns take
// their last known in-window value, and the matched session date is kept as
// a treatment_date column.
func CombineTreatment(main, trt *table.Table, w anchor.Window) (*table.Table, error) {
	isDrug := func(name string) bool { return strings.HasPrefix(name, "drug_") }

	feats := trt.Clone()
	feats.DropCols(isDrug)
	df, err := anchor.Aggregate(main, feats, anchor.AggOpts{
		Stats:           []anchor.Stat{anchor.Last},
		Window:          w,
		IncludeMeasDate: true,
	})
	if err != nil {
		return nil, err
	}

	drugs := trt.Clone()
	drugs.DropCols(func(name string) bool { return !isDrug(name) })
	df, err = anchor.Aggregate(df, drugs, anchor.AggOpts{
		Stats:  []anchor.Stat{anchor.Sum},
		Window: w,
	})
	if err != nil {
		return nil, err
	}

	// downstream features refer to treatment columns by their source names
	for _, c := range df.Cols {
		c.Name = strings.TrimSuffix(strings.TrimSuffix(c.Name, "_LAST"), "_SUM")
	}
	return df, nil
}

// CombineMeasurements pulls the per-column nearest measurement in the
// lookback window onto the reference table, keeping the source column names.
// Used for the lab and symptom tables.
func CombineMeasurements(main, meas *table.Table, w anchor.Window) (*table.Table, error) {
	return anchor.MatchPerColumn(main, meas, anchor.MatchOpts{
		Direction: anchor.Backward,
		Window:    w,
	})
}

// CombineEvent derives event recency features from an event table, for
// example prior emergency department visits.
func CombineEvent(main, event *table.Table, eventName string, lookbackYears int) (*table.Table, error) {
	return anchor.EventFeatures(main, event, anchor.EventOpts{
		EventName:     eventName,
		LookbackYears: lookbackYears,
		MissingDays:   anchor.MissingNull,
	})
}

// CombinePercentIdealDose converts the raw dosage columns to percent of
// ideal dose features and drops the raw dosages.
func CombinePercentIdealDose(df *table.Table, formulas map[string]engineer.DoseFormula) error {
	if err := engineer.PercentIdealDose(df, formulas); err != nil {
		return err
	}
	df.DropCols(func(name string) bool { return strings.HasPrefix(name, "drug_") })
	return nil
}

// AttachLastSeen adds each patient's last contact date as a last_seen_date
// column. Patients absent from the map get a null date.
func AttachLastSeen(df *table.Table, lastSeen map[string]time.Time) error {
	c := table.NewTimeColumn("last_seen_date", df.Len())
	for i, mrn := range df.MRNs {
		if d, ok := lastSeen[mrn]; ok {
			c.Times[i] = d
		}
	}
	return df.AddCol(c)
}

// AddEngineeredFeatures derives the feature set that depends only on the
// combined table itself: cyclical visit month encodings, treatment timeline
// day counts, line of therapy, and change since the previous session. mode
// states whether the reference rows are treatment sessions themselves.
func AddEngineeredFeatures(df *table.Table, mode engineer.AnchorMode, cfg *Config) error {
	if err := engineer.VisitMonthFeatures(df); err != nil {
		return err
	}
	if err := engineer.DaysSinceStartingTreatment(df); err != nil {
		return err
	}
	if err := engineer.DaysSinceLastTreatment(df, mode, "treatment_date"); err != nil {
		return err
	}
	if err := engineer.LineOfTherapy(df); err != nil {
		return err
	}
	changeCols := append(append([]string{}, cfg.LabChangeCols...), cfg.SymptomCols...)
	return engineer.ChangeSincePrevSession(df, changeCols)
}
