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
	"math"

	"github.com/montanaflynn/stats"

	"clindat/table"
)

// Stat enumerates the aggregate statistics Aggregate can compute over the
// measurements falling in a window.
type Stat int

const (
	// First takes the chronologically first in-window row as-is.
	First Stat = iota
	// Last forward-fills each column across the in-window rows before taking
	// the tail, i.e. the last known value carried forward rather than the last
	// row's raw value.
	Last
	// Sum adds the non-null values per column.
	Sum
	// Max takes the per-column maximum; with IncludeMeasDate the date of the
	// maximizing row is recorded per column.
	Max
	// Min is the per-column counterpart of Max.
	Min
	// Avg averages the non-null values per column.
	Avg
	// Count counts the non-null values per column. Count is the only statistic
	// that yields zero rather than null for an empty window.
	Count
)

// suffix returns the output column suffix of a statistic.
func (s Stat) suffix() string {
	switch s {
	case First:
		return "_FIRST"
	case Last:
		return "_LAST"
	case Sum:
		return "_SUM"
	case Max:
		return "_MAX"
	case Min:
		return "_MIN"
	case Avg:
		return "_AVG"
	default:
		return "_COUNT"
	}
}

// AggOpts configures a full-window aggregation.
type AggOpts struct {
	Stats  []Stat
	Window Window
	// IncludeMeasDate records the date of the first/last row and, for Max and
	// Min, the per-column date of the extremal measurement.
	IncludeMeasDate bool
}

// Aggregate computes, for every reference row in main, the requested
// statistics over all meas rows of the same patient whose dates fall in the
// inclusive window around the reference date. The output has exactly the rows
// of main; reference rows with no in-window measurement get nulls (zero only
// for Count).
func Aggregate(main, meas *table.Table, opts AggOpts) (*table.Table, error) {
	if len(opts.Stats) == 0 {
		return nil, fmt.Errorf("anchor: Aggregate requires at least one statistic")
	}
	if err := validateMatchInputs(main, meas, MatchOpts{Window: opts.Window}); err != nil {
		return nil, err
	}
	measGroups, err := meas.GroupIndex()
	if err != nil {
		return nil, err
	}

	result := main.Clone()
	n := main.Len()
	out := newAggColumns(meas, opts, n)

	for i := 0; i < n; i++ {
		g, ok := measGroups[main.MRNs[i]]
		if !ok {
			continue
		}
		rows := allRows(g)
		lo, hi := searchRange(meas.Dates, rows, main.Dates[i], opts.Window)
		if lo >= hi {
			continue
		}
		window := rows[lo:hi]
		for _, s := range opts.Stats {
			aggregateRow(out, meas, window, i, s, opts.IncludeMeasDate)
		}
	}

	for _, c := range out.ordered {
		if err := result.AddCol(c); err != nil {
			return nil, err
		}
	}
	if err := assertCardinality("Aggregate", main, result); err != nil {
		return nil, err
	}
	return result, nil
}

// aggColumns holds the output columns of one Aggregate call, keyed by name,
// with insertion order preserved for deterministic output schemas.
type aggColumns struct {
	byName  map[string]*table.Column
	ordered []*table.Column
}

func (a *aggColumns) add(c *table.Column) {
	a.byName[c.Name] = c
	a.ordered = append(a.ordered, c)
}

// newAggColumns pre-creates every output column so that rows without
// in-window measurements still carry the full schema (as nulls).
func newAggColumns(meas *table.Table, opts AggOpts, n int) *aggColumns {
	out := &aggColumns{byName: map[string]*table.Column{}}
	for _, s := range opts.Stats {
		switch s {
		case First, Last:
			for _, c := range meas.Cols {
				col := c.EmptyLike(n)
				col.Name = c.Name + s.suffix()
				out.add(col)
			}
			if opts.IncludeMeasDate {
				out.add(table.NewTimeColumn(meas.DateName+s.suffix(), n))
			}
		case Max, Min:
			for _, c := range meas.Cols {
				if c.Kind != table.Float {
					continue
				}
				out.add(table.NewFloatColumn(c.Name+s.suffix(), n))
				if opts.IncludeMeasDate {
					out.add(table.NewTimeColumn(c.Name+s.suffix()+"_date", n))
				}
			}
		case Sum, Avg:
			for _, c := range meas.Cols {
				if c.Kind != table.Float {
					continue
				}
				out.add(table.NewFloatColumn(c.Name+s.suffix(), n))
			}
		case Count:
			for _, c := range meas.Cols {
				col := table.NewFloatColumn(c.Name+s.suffix(), n)
				for k := range col.Floats {
					col.Floats[k] = 0
				}
				out.add(col)
			}
		}
	}
	return out
}

// aggregateRow fills the output columns of one statistic for main row i from
// the in-window meas rows.
func aggregateRow(out *aggColumns, meas *table.Table, window []int, i int, s Stat, includeDate bool) {
	switch s {
	case First:
		src := window[0]
		for _, c := range meas.Cols {
			out.byName[c.Name+s.suffix()].CopyValue(i, c, src)
		}
		if includeDate {
			out.byName[meas.DateName+s.suffix()].Times[i] = meas.Dates[src]
		}
	case Last:
		// last known value carried forward per column
		for _, c := range meas.Cols {
			for k := len(window) - 1; k >= 0; k-- {
				if !c.IsNull(window[k]) {
					out.byName[c.Name+s.suffix()].CopyValue(i, c, window[k])
					break
				}
			}
		}
		if includeDate {
			out.byName[meas.DateName+s.suffix()].Times[i] = meas.Dates[window[len(window)-1]]
		}
	case Max, Min:
		for _, c := range meas.Cols {
			if c.Kind != table.Float {
				continue
			}
			best := -1
			for _, r := range window {
				if c.IsNull(r) {
					continue
				}
				if best < 0 ||
					(s == Max && c.Floats[r] > c.Floats[best]) ||
					(s == Min && c.Floats[r] < c.Floats[best]) {
					best = r
				}
			}
			if best < 0 {
				continue
			}
			out.byName[c.Name+s.suffix()].Floats[i] = c.Floats[best]
			if includeDate {
				out.byName[c.Name+s.suffix()+"_date"].Times[i] = meas.Dates[best]
			}
		}
	case Sum, Avg:
		for _, c := range meas.Cols {
			if c.Kind != table.Float {
				continue
			}
			vals := nonNullFloats(c, window)
			if len(vals) == 0 {
				continue
			}
			var v float64
			var err error
			if s == Sum {
				v, err = stats.Sum(vals)
			} else {
				v, err = stats.Mean(vals)
			}
			if err != nil {
				continue
			}
			out.byName[c.Name+s.suffix()].Floats[i] = v
		}
	case Count:
		for _, c := range meas.Cols {
			ctr := 0
			for _, r := range window {
				if !c.IsNull(r) {
					ctr++
				}
			}
			out.byName[c.Name+s.suffix()].Floats[i] = float64(ctr)
		}
	}
}

func nonNullFloats(c *table.Column, rows []int) []float64 {
	vals := make([]float64, 0, len(rows))
	for _, r := range rows {
		if !math.IsNaN(c.Floats[r]) {
			vals = append(vals, c.Floats[r])
		}
	}
	return vals
}
