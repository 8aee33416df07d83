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
	"sort"

	"clindat/table"
	"clindat/utils"
)

// MissingDaysPolicy determines what days_since_prev gets when a patient has
// no prior event at all.
type MissingDaysPolicy int

const (
	// MissingNull leaves days_since_prev null.
	MissingNull MissingDaysPolicy = iota
	// MissingMaxFill writes the lookback horizon in days, so that downstream
	// models see "at least this long ago" instead of a hole.
	MissingMaxFill
)

// EventOpts configures the recency features derived from an event table.
type EventOpts struct {
	// EventName is the singular event noun used in output column names, for
	// example "ED_visit".
	EventName string
	// LookbackYears bounds the counting window; an event is counted when
	// ref-365*LookbackYears <= event date < ref. The upper bound is strict so
	// that an event on the reference date itself is never a "prior" event.
	LookbackYears int
	MissingDays   MissingDaysPolicy
}

// EventFeatures computes, per reference row in main, the number of prior
// events within the lookback window and the days elapsed since the most
// recent prior event. The event table needs only mrn and date columns; any
// value columns it carries are ignored. Output cardinality equals main's.
func EventFeatures(main, event *table.Table, opts EventOpts) (*table.Table, error) {
	if opts.EventName == "" {
		return nil, fmt.Errorf("anchor: EventFeatures requires an event name")
	}
	if opts.LookbackYears <= 0 {
		return nil, fmt.Errorf("anchor: EventFeatures requires a positive lookback, got %v years", opts.LookbackYears)
	}
	if event.DateName == "" {
		return nil, fmt.Errorf("anchor: event table has no date column")
	}
	if err := requireSorted("main", main); err != nil {
		return nil, err
	}
	if err := requireSorted("event", event); err != nil {
		return nil, err
	}
	if err := main.Validate(); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	groups, err := event.GroupIndex()
	if err != nil {
		return nil, err
	}

	lookbackDays := 365 * opts.LookbackYears
	countName := fmt.Sprintf("num_prior_%ss_within_%d_years", opts.EventName, opts.LookbackYears)
	daysName := fmt.Sprintf("days_since_prev_%s", opts.EventName)

	result := main.Clone()
	n := main.Len()
	counts := table.NewFloatColumn(countName, n)
	days := table.NewFloatColumn(daysName, n)
	for i := range counts.Floats {
		counts.Floats[i] = 0
		if opts.MissingDays == MissingMaxFill {
			days.Floats[i] = float64(lookbackDays)
		}
	}

	for i := 0; i < n; i++ {
		g, ok := groups[main.MRNs[i]]
		if !ok {
			continue
		}
		ref := main.Dates[i]
		floor := utils.AddDays(ref, -lookbackDays)
		// first event >= floor, then first event >= ref; prior events are the
		// half-open slice in between
		lo := g.Start + sort.Search(g.End-g.Start, func(k int) bool {
			return !event.Dates[g.Start+k].Before(floor)
		})
		hi := g.Start + sort.Search(g.End-g.Start, func(k int) bool {
			return !event.Dates[g.Start+k].Before(ref)
		})
		if lo >= hi {
			continue
		}
		counts.Floats[i] = float64(hi - lo)
		days.Floats[i] = float64(utils.DaysBetween(ref, event.Dates[hi-1]))
	}

	if err := result.AddCol(counts); err != nil {
		return nil, err
	}
	if err := result.AddCol(days); err != nil {
		return nil, err
	}
	if err := assertCardinality("EventFeatures", main, result); err != nil {
		return nil, err
	}
	return result, nil
}
