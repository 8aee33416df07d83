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
	"sort"
	"time"

	"github.com/araddon/dateparse"

	"clindat/table"
	"clindat/utils"
)

// Alignment selectors accepted by BuildReference. Anything else is treated
// as a path to a CSV file with mrn and date columns.
const (
	AlignTreatmentDates = "treatment-dates"
	AlignWeeklyMondays  = "weekly-mondays"
)

// reservedDateCols are source date columns that must not double as the
// reference date column, since the combining steps join against them.
var reservedDateCols = []string{"survey_date", "obs_date", "event_date", "treatment_date"}

// BuildReference constructs the reference table the sources are anchored on.
//
// With AlignTreatmentDates the treatment table itself becomes the reference,
// one row per treatment session. With AlignWeeklyMondays the reference is
// the cross product of every patient in the demographic table with every
// Monday in the configured date range. Any other value of alignOn is read
// as a CSV file whose dateCol column holds the reference dates.
//
// The reference must be unique on (mrn, date); duplicates are rejected.
func BuildReference(alignOn, dateCol string, trt, dmg *table.Table, cfg *Config) (*table.Table, error) {
	if alignOn != AlignTreatmentDates && utils.MemberString(dateCol, reservedDateCols) {
		return nil, fmt.Errorf("app: date column %q collides with a source date column; pick another name", dateCol)
	}
	var ref *table.Table
	var err error
	switch alignOn {
	case AlignTreatmentDates:
		ref = trt.Clone()
	case AlignWeeklyMondays:
		return weeklyReference(dateCol, dmg, cfg)
	default:
		ref, err = LoadTable(alignOn, dateCol)
		if err != nil {
			return nil, err
		}
	}
	if err := requireUniqueRows(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// requireUniqueRows rejects sorted reference tables with duplicate
// (mrn, date) rows, which would anchor the window joins twice on the same
// point. Callers collapse duplicates before building the reference.
func requireUniqueRows(ref *table.Table) error {
	for i := 1; i < ref.Len(); i++ {
		if ref.MRNs[i] == ref.MRNs[i-1] && ref.Dates[i].Equal(ref.Dates[i-1]) {
			return fmt.Errorf("app: reference table has duplicate rows for patient %s on %s",
				ref.MRNs[i], ref.Dates[i].Format("2006-01-02"))
		}
	}
	return nil
}

func weeklyReference(dateCol string, dmg *table.Table, cfg *Config) (*table.Table, error) {
	start, err := dateparse.ParseAny(cfg.WeeklyStart)
	if err != nil {
		return nil, fmt.Errorf("app: weekly_start: %w", err)
	}
	end, err := dateparse.ParseAny(cfg.WeeklyEnd)
	if err != nil {
		return nil, fmt.Errorf("app: weekly_end: %w", err)
	}
	start, end = utils.Day(start), utils.Day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("app: weekly range %s to %s is empty", cfg.WeeklyStart, cfg.WeeklyEnd)
	}
	var mondays []time.Time
	for d := start; !d.After(end); d = utils.AddDays(d, 1) {
		if d.Weekday() == time.Monday {
			mondays = append(mondays, d)
		}
	}

	mrns := make([]string, 0, len(dmg.MRNs))
	for mrn := range dmg.MRNSet() {
		mrns = append(mrns, mrn)
	}
	sort.Strings(mrns)

	ref := table.New(dateCol)
	for _, mrn := range mrns {
		for _, d := range mondays {
			ref.AppendRow(mrn, d)
		}
	}
	ref.SortByPatientDate()
	return ref, nil
}
