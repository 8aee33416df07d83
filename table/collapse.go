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

package table

import (
	"fmt"
	"math"
	"strings"
)

// CollapsePolicy names the aggregation rule applied when multiple measurement
// rows share the same (mrn, date). Window joins over non-unique (mrn, date)
// pairs are undefined, so duplicates must be collapsed under an explicit,
// caller-named policy rather than by implicit row order.
type CollapsePolicy int

const (
	CollapseMax CollapsePolicy = iota
	CollapseMin
	CollapseMean
	CollapseSum
	CollapseLast
	// CollapseConcat joins string values with ConcatDelimiter; float and date
	// columns fall back to CollapseLast.
	CollapseConcat
)

// ConcatDelimiter separates string values merged under CollapseConcat.
const ConcatDelimiter = "\n\n"

func (p CollapsePolicy) String() string {
	switch p {
	case CollapseMax:
		return "max"
	case CollapseMin:
		return "min"
	case CollapseMean:
		return "mean"
	case CollapseSum:
		return "sum"
	case CollapseLast:
		return "last"
	case CollapseConcat:
		return "concat"
	default:
		return "unknown"
	}
}

// CollapseSameDay collapses rows sharing an (mrn, date) pair into a single row
// under the given policy. The receiver must be sorted; the result is sorted
// and unique on (mrn, date). Nulls are ignored by all policies; a group whose
// values are all null collapses to null.
func (t *Table) CollapseSameDay(policy CollapsePolicy) (*Table, error) {
	return t.CollapseSameDayBy(func(string) CollapsePolicy { return policy })
}

// CollapseSameDayBy is like CollapseSameDay but selects the policy per
// column, keyed by column name.
func (t *Table) CollapseSameDayBy(policy func(col string) CollapsePolicy) (*Table, error) {
	if t.DateName == "" {
		return nil, fmt.Errorf("table: CollapseSameDay requires a date column")
	}
	if !t.sorted {
		return nil, fmt.Errorf("table: CollapseSameDay called on unsorted table; call SortByPatientDate first")
	}
	result := New(t.DateName)
	for _, c := range t.Cols {
		result.Cols = append(result.Cols, c.EmptyLike(0))
	}
	for i := 0; i < t.Len(); {
		j := i + 1
		for j < t.Len() && t.MRNs[j] == t.MRNs[i] && t.Dates[j].Equal(t.Dates[i]) {
			j++
		}
		result.AppendRow(t.MRNs[i], t.Dates[i])
		row := result.Len() - 1
		for ci, c := range t.Cols {
			collapseInto(result.Cols[ci], row, c, i, j, policy(c.Name))
		}
		i = j
	}
	result.sorted = true
	return result, nil
}

// collapseInto writes the collapsed value of src rows [start, end) into dst
// row di.
func collapseInto(dst *Column, di int, src *Column, start, end int, policy CollapsePolicy) {
	switch src.Kind {
	case Float:
		dst.Floats[di] = collapseFloats(src.Floats[start:end], policy)
	case String:
		dst.Strings[di] = collapseStrings(src.Strings[start:end], policy)
	default:
		// dates within a same-day group: keep the last non-null
		for i := end - 1; i >= start; i-- {
			if !src.Times[i].IsZero() {
				dst.Times[di] = src.Times[i]
				break
			}
		}
	}
}

func collapseFloats(vals []float64, policy CollapsePolicy) float64 {
	acc := math.NaN()
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		n++
		switch policy {
		case CollapseMax:
			if math.IsNaN(acc) || v > acc {
				acc = v
			}
		case CollapseMin:
			if math.IsNaN(acc) || v < acc {
				acc = v
			}
		case CollapseMean, CollapseSum:
			if math.IsNaN(acc) {
				acc = v
			} else {
				acc += v
			}
		case CollapseLast, CollapseConcat:
			acc = v
		}
	}
	if policy == CollapseMean && n > 0 {
		acc /= float64(n)
	}
	return acc
}

func collapseStrings(vals []string, policy CollapsePolicy) string {
	if policy == CollapseConcat {
		var nonNull []string
		for _, v := range vals {
			if v != "" {
				nonNull = append(nonNull, v)
			}
		}
		return strings.Join(nonNull, ConcatDelimiter)
	}
	// all other policies keep the last non-null value
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i] != "" {
			return vals[i]
		}
	}
	return ""
}
