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
	"runtime"

	"github.com/exascience/pargo/parallel"

	"clindat/table"
)

// Partition splits a sorted table into at most parts contiguous slices that
// never split a patient across slices. Fewer slices are returned when the
// table has fewer patients than requested parts.
func Partition(t *table.Table, parts int) ([]*table.Table, error) {
	if parts < 1 {
		return nil, fmt.Errorf("anchor: Partition into %v parts", parts)
	}
	groups, err := t.Groups()
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []*table.Table{t.Slice(0, 0)}, nil
	}
	if parts > len(groups) {
		parts = len(groups)
	}
	target := (t.Len() + parts - 1) / parts
	var result []*table.Table
	start := 0
	rows := 0
	for gi, g := range groups {
		rows += g.End - g.Start
		if rows >= target || gi == len(groups)-1 {
			result = append(result, t.Slice(start, g.End))
			start = g.End
			rows = 0
		}
	}
	return result, nil
}

// ParallelApply partitions main at patient boundaries, runs fn on each
// partition concurrently, and concatenates the results in the original order.
// fn must preserve the row count of its partition; the concatenated result is
// checked against main's cardinality. threads <= 0 picks a partition per
// logical CPU as pargo does.
func ParallelApply(main *table.Table, threads int, fn func(part *table.Table) (*table.Table, error)) (*table.Table, error) {
	parts, err := Partition(main, partitionCount(main, threads))
	if err != nil {
		return nil, err
	}
	results := make([]*table.Table, len(parts))
	errs := make([]error, len(parts))
	parallel.Range(0, len(parts), 0, func(low, high int) {
		for i := low; i < high; i++ {
			r, err := fn(parts[i])
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = r
		}
	})
	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}
	result, err := table.Concat(results...)
	if err != nil {
		return nil, err
	}
	if err := assertCardinality("ParallelApply", main, result); err != nil {
		return nil, err
	}
	return result, nil
}

func partitionCount(t *table.Table, threads int) int {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	// a few partitions per worker smooths out skewed patient sizes
	return threads * 4
}
