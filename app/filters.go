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
	"time"

	"clindat/table"
	"clindat/utils"
)

// RowFilter is a predicate over one row of a table. Filters are applied in
// order with ApplyFilters, which logs exclusion counts per filter.
type RowFilter func(t *table.Table, i int) bool

// DateRangeFilter keeps rows whose reference date falls in [start, end].
// Either bound may be zero to leave that side open.
func DateRangeFilter(start, end time.Time) RowFilter {
	start, end = utils.Day(start), utils.Day(end)
	return func(t *table.Table, i int) bool {
		if !start.IsZero() && t.Dates[i].Before(start) {
			return false
		}
		if !end.IsZero() && t.Dates[i].After(end) {
			return false
		}
		return true
	}
}

// PatientFilter keeps rows of patients present in the given set. Used to
// restrict a run to a cohort list.
func PatientFilter(cohort map[string]bool) RowFilter {
	return func(t *table.Table, i int) bool {
		return cohort[t.MRNs[i]]
	}
}

// IntentFilter keeps rows whose treatment intent matches one of the given
// values. Rows with a null intent are dropped.
func IntentFilter(intents ...string) RowFilter {
	return func(t *table.Table, i int) bool {
		c := t.Col("intent")
		if c == nil || c.IsNull(i) {
			return false
		}
		return utils.MemberString(c.Strings[i], intents)
	}
}

// NamedFilter pairs a filter with the reason logged for its exclusions.
type NamedFilter struct {
	Name   string
	Filter RowFilter
}

// ApplyFilters applies each filter in turn, logging how many rows each one
// excludes.
func ApplyFilters(df *table.Table, filters []NamedFilter) *table.Table {
	for _, nf := range filters {
		cur, filter := df, nf.Filter
		df = excludeRows(cur, nf.Name, func(i int) bool { return filter(cur, i) })
	}
	return df
}
