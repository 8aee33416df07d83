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

// Package anchor implements the temporal anchoring engine: nearest-measurement
// window joins, full-window aggregation, and event recency features, all
// scoped per patient. Every operation preserves the row count of the main
// table; a violation of that invariant is reported as a hard error, never
// papered over.
package anchor

import (
	"fmt"
	"sort"
	"time"

	"clindat/table"
	"clindat/utils"
)

// Direction selects which side of the reference date a nearest-measurement
// match searches.
type Direction int

const (
	// Backward matches the most recent measurement at or before the shifted
	// reference date.
	Backward Direction = iota
	// Forward matches the earliest measurement at or after the shifted
	// reference date.
	Forward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Window is an inclusive day-offset range [Lower, Upper] relative to a
// reference date. Negative offsets look back, positive offsets look ahead,
// e.g. Window{-5, 0} covers the five days up to and including the reference
// date.
type Window struct {
	Lower, Upper int
}

// Validate rejects out-of-range window parameters at configuration time.
func (w Window) Validate() error {
	if w.Lower > w.Upper {
		return fmt.Errorf("anchor: invalid window (%d, %d): lower bound exceeds upper bound", w.Lower, w.Upper)
	}
	return nil
}

// Tolerance is the width of the window in days, the search radius of a
// single-sided nearest match.
func (w Window) Tolerance() int {
	return w.Upper - w.Lower
}

// anchorDate shifts a reference date so that an asymmetric window can be
// expressed as a single-sided nearest-neighbor search with a tolerance radius:
// a backward search anchors at ref+Upper and looks back Tolerance days, a
// forward search anchors at ref+Lower and looks ahead Tolerance days.
func (w Window) anchorDate(ref time.Time, dir Direction) time.Time {
	if dir == Backward {
		return utils.AddDays(ref, w.Upper)
	}
	return utils.AddDays(ref, w.Lower)
}

// searchNearest finds, among the measurement dates at the given row indices
// (chronologically ordered), the row nearest to anchor in the given direction
// within tolerance days. It returns -1 when no row qualifies. Exact matches on
// the anchor date are allowed.
func searchNearest(dates []time.Time, rows []int, anchor time.Time, dir Direction, tolerance int) int {
	if dir == Backward {
		// last row with date <= anchor
		i := sort.Search(len(rows), func(i int) bool {
			return dates[rows[i]].After(anchor)
		}) - 1
		if i < 0 {
			return -1
		}
		if utils.DaysBetween(anchor, dates[rows[i]]) > tolerance {
			return -1
		}
		return rows[i]
	}
	// first row with date >= anchor
	i := sort.Search(len(rows), func(i int) bool {
		return !dates[rows[i]].Before(anchor)
	})
	if i >= len(rows) {
		return -1
	}
	if utils.DaysBetween(dates[rows[i]], anchor) > tolerance {
		return -1
	}
	return rows[i]
}

// searchRange returns the measurement row index range [lo, hi) whose dates
// fall in the inclusive window around ref. rows must be chronologically
// ordered; the returned bounds index into rows.
func searchRange(dates []time.Time, rows []int, ref time.Time, w Window) (int, int) {
	earliest := utils.AddDays(ref, w.Lower)
	latest := utils.AddDays(ref, w.Upper)
	lo := sort.Search(len(rows), func(i int) bool {
		return !dates[rows[i]].Before(earliest)
	})
	hi := sort.Search(len(rows), func(i int) bool {
		return dates[rows[i]].After(latest)
	})
	return lo, hi
}

// requireSorted rejects tables whose (mrn, date) order has not been
// established. Unsorted input silently produces wrong matches.
func requireSorted(name string, t *table.Table) error {
	if !t.IsSorted() {
		return fmt.Errorf("anchor: %s table is not sorted by (mrn, date); call SortByPatientDate first", name)
	}
	return nil
}

// assertCardinality enforces the row-count invariant after a join.
func assertCardinality(op string, main, result *table.Table) error {
	if result.Len() != main.Len() {
		return fmt.Errorf("anchor: %s changed the main row count from %d to %d", op, main.Len(), result.Len())
	}
	return nil
}
