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

package anchor

import (
	"fmt"

	"clindat/table"
)

// MatchOpts configures a nearest-measurement window join.
type MatchOpts struct {
	Direction Direction
	Window    Window
	// IncludeMeasDate appends the date of the matched measurement. In
	// per-column mode the date column is renamed to {col}_{measDateCol} since
	// different columns may match different source rows.
	IncludeMeasDate bool
}

// MatchPerColumn joins, for each reference row in main, the nearest
// measurement of every meas value column independently, each against its own
// non-null subset of meas. Different columns may legitimately match different
// source rows because their missingness patterns differ. Matching is scoped
// per patient; the output has exactly the rows of main, with nulls where no
// measurement falls inside the window.
func MatchPerColumn(main, meas *table.Table, opts MatchOpts) (*table.Table, error) {
	if err := validateMatchInputs(main, meas, opts); err != nil {
		return nil, err
	}
	measGroups, err := meas.GroupIndex()
	if err != nil {
		return nil, err
	}

	result := main.Clone()
	n := main.Len()
	for _, c := range meas.Cols {
		matched := c.EmptyLike(n)
		var matchedDates *table.Column
		if opts.IncludeMeasDate {
			matchedDates = table.NewTimeColumn(fmt.Sprintf("%s_%s", c.Name, meas.DateName), n)
		}

		// non-null rows of this column, per patient, in chronological order
		for i := 0; i < n; i++ {
			g, ok := measGroups[main.MRNs[i]]
			if !ok {
				continue
			}
			rows := nonNullRows(c, g)
			if len(rows) == 0 {
				continue
			}
			anchorDate := opts.Window.anchorDate(main.Dates[i], opts.Direction)
			mi := searchNearest(meas.Dates, rows, anchorDate, opts.Direction, opts.Window.Tolerance())
			if mi < 0 {
				continue
			}
			matched.CopyValue(i, c, mi)
			if matchedDates != nil {
				matchedDates.Times[i] = meas.Dates[mi]
			}
		}
		if err := result.AddCol(matched); err != nil {
			return nil, err
		}
		if matchedDates != nil {
			if err := result.AddCol(matchedDates); err != nil {
				return nil, err
			}
		}
	}
	if err := assertCardinality("MatchPerColumn", main, result); err != nil {
		return nil, err
	}
	return result, nil
}

// MatchWholeRow joins, for each reference row in main, the single nearest meas
// row as one unit, copying all of its value columns. Use this when the meas
// columns are known to co-occur (a single treatment event, a single survey).
// The matched measurement date is appended under the meas date column name
// when IncludeMeasDate is set.
func MatchWholeRow(main, meas *table.Table, opts MatchOpts) (*table.Table, error) {
	if err := validateMatchInputs(main, meas, opts); err != nil {
		return nil, err
	}
	measGroups, err := meas.GroupIndex()
	if err != nil {
		return nil, err
	}

	result := main.Clone()
	n := main.Len()
	matchedRow := make([]int, n)
	for i := range matchedRow {
		matchedRow[i] = -1
	}
	for i := 0; i < n; i++ {
		g, ok := measGroups[main.MRNs[i]]
		if !ok {
			continue
		}
		rows := allRows(g)
		anchorDate := opts.Window.anchorDate(main.Dates[i], opts.Direction)
		matchedRow[i] = searchNearest(meas.Dates, rows, anchorDate, opts.Direction, opts.Window.Tolerance())
	}

	for _, c := range meas.Cols {
		matched := c.EmptyLike(n)
		for i, mi := range matchedRow {
			if mi >= 0 {
				matched.CopyValue(i, c, mi)
			}
		}
		if err := result.AddCol(matched); err != nil {
			return nil, err
		}
	}
	if opts.IncludeMeasDate {
		matchedDates := table.NewTimeColumn(meas.DateName, n)
		for i, mi := range matchedRow {
			if mi >= 0 {
				matchedDates.Times[i] = meas.Dates[mi]
			}
		}
		if err := result.AddCol(matchedDates); err != nil {
			return nil, err
		}
	}
	if err := assertCardinality("MatchWholeRow", main, result); err != nil {
		return nil, err
	}
	return result, nil
}

func validateMatchInputs(main, meas *table.Table, opts MatchOpts) error {
	if err := opts.Window.Validate(); err != nil {
		return err
	}
	if main.DateName == "" {
		return fmt.Errorf("anchor: main table has no date column")
	}
	if meas.DateName == "" {
		return fmt.Errorf("anchor: measurement table has no date column")
	}
	if err := requireSorted("main", main); err != nil {
		return err
	}
	if err := requireSorted("measurement", meas); err != nil {
		return err
	}
	if err := main.Validate(); err != nil {
		return err
	}
	return meas.Validate()
}

// nonNullRows returns the row indices in group g where column c is non-null,
// in chronological order.
func nonNullRows(c *table.Column, g table.Group) []int {
	rows := make([]int, 0, g.End-g.Start)
	for i := g.Start; i < g.End; i++ {
		if !c.IsNull(i) {
			rows = append(rows, i)
		}
	}
	return rows
}

func allRows(g table.Group) []int {
	rows := make([]int, g.End-g.Start)
	for i := range rows {
		rows[i] = g.Start + i
	}
	return rows
}
