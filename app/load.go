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
	"time"

	"github.com/araddon/dateparse"
	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"

	"clindat/engineer"
	"clindat/table"
	"clindat/utils"
)

// Date is a calendar date in a CSV cell. Any common date format is accepted;
// an empty cell is a null date.
type Date struct {
	time.Time
}

// UnmarshalCSV implements gocsv decoding.
func (d *Date) UnmarshalCSV(s string) error {
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return err
	}
	d.Time = utils.Day(t)
	return nil
}

// MarshalCSV implements gocsv encoding.
func (d Date) MarshalCSV() (string, error) {
	if d.IsZero() {
		return "", nil
	}
	return d.Format("2006-01-02"), nil
}

// LastSeenRecord is one row of the last seen dates extract.
type LastSeenRecord struct {
	MRN          string `csv:"mrn"`
	LastSeenDate Date   `csv:"last_seen_date"`
}

// DrugRecord is one row of the included drugs list, mapping a drug to the
// formula its recommended dose follows.
type DrugRecord struct {
	Name        string `csv:"name"`
	DoseFormula string `csv:"recommended_dose_formula"`
}

// LoadTable reads a wide CSV extract, sorts it by (mrn, date), and validates
// it. dateCol may be empty for per-patient tables without a date column.
func LoadTable(path, dateCol string) (*table.Table, error) {
	t, err := table.ReadCSVFile(path, dateCol)
	if err != nil {
		return nil, pfx.Err(err)
	}
	t.SortByPatientDate()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	Log.WithFields(map[string]interface{}{
		"path": path, "rows": t.Len(), "cols": len(t.Cols),
	}).Info("loaded table")
	return t, nil
}

// LoadLastSeen reads the last seen dates extract into a per-patient map.
// Duplicate patients keep their latest date.
func LoadLastSeen(path string) (map[string]time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()
	var records []*LastSeenRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, pfx.Err(err)
	}
	lastSeen := make(map[string]time.Time, len(records))
	for _, r := range records {
		if r.MRN == "" {
			return nil, fmt.Errorf("%s: row with empty mrn", path)
		}
		if r.LastSeenDate.After(lastSeen[r.MRN]) {
			lastSeen[r.MRN] = r.LastSeenDate.Time
		}
	}
	return lastSeen, nil
}

// LoadIncludedDrugs reads the included drugs list into a drug to dose
// formula map. Duplicate drug names with conflicting formulas are rejected.
func LoadIncludedDrugs(path string) (map[string]engineer.DoseFormula, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()
	var records []*DrugRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, pfx.Err(err)
	}
	formulas := make(map[string]engineer.DoseFormula, len(records))
	for _, r := range records {
		formula := parseDoseFormula(r.DoseFormula)
		if prev, ok := formulas[r.Name]; ok && prev != formula {
			return nil, fmt.Errorf("%s: drug %s listed with conflicting dose formulas", path, r.Name)
		}
		formulas[r.Name] = formula
	}
	return formulas, nil
}

// parseDoseFormula maps the free text formula descriptions used in the drug
// list to the formulas the engineer package implements. Unrecognized text is
// assumed to describe the carboplatin renal dosing formula, which is the
// only multi-term formula in use.
func parseDoseFormula(s string) engineer.DoseFormula {
	switch engineer.DoseFormula(s) {
	case engineer.DoseFlat, engineer.DoseBSA, engineer.DoseWeight:
		return engineer.DoseFormula(s)
	default:
		return engineer.DoseCarboplatin
	}
}
