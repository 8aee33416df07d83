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

package label

import (
	"fmt"

	"clindat/anchor"
	"clindat/table"
	"clindat/utils"
)

// AcuteOpts configures acute care visit labeling.
type AcuteOpts struct {
	// EventName is used in output column names, for example "ED" yields
	// target_ED_date and target_ED_{d}d columns.
	EventName string
	Horizons  []int
}

// AcuteCare labels upcoming acute care use (emergency department visits,
// hospital admissions). For every main row the nearest event on or after the
// reference date within the largest horizon is matched; its date and any
// columns the event table carries are appended under a target_ prefix, and a
// target_{name}_{d}d column per horizon marks whether the event falls
// strictly inside that horizon. Exclusions:
//
// A matched event on the reference date itself describes a visit already
// underway rather than an upcoming one, so the row is -1 for every horizon.
//
// An unmatched row is negative only when the patient's last_seen_date, if
// main carries one, reaches the horizon's end; otherwise the row is -1.
func AcuteCare(main, event *table.Table, opts AcuteOpts) (*table.Table, error) {
	if opts.EventName == "" {
		return nil, fmt.Errorf("label: AcuteCare requires an event name")
	}
	if len(opts.Horizons) == 0 {
		return nil, fmt.Errorf("label: AcuteCare requires at least one horizon")
	}
	maxDays := 0
	for _, d := range opts.Horizons {
		if d < 1 {
			return nil, fmt.Errorf("label: AcuteCare horizon of %d days", d)
		}
		if d > maxDays {
			maxDays = d
		}
	}

	matched, err := anchor.MatchWholeRow(main, event, anchor.MatchOpts{
		Direction:       anchor.Forward,
		Window:          anchor.Window{Lower: 0, Upper: maxDays},
		IncludeMeasDate: true,
	})
	if err != nil {
		return nil, err
	}
	for _, c := range matched.Cols[len(main.Cols):] {
		if c.Name == event.DateName {
			c.Name = fmt.Sprintf("target_%s_date", opts.EventName)
		} else {
			c.Name = fmt.Sprintf("target_%s_%s", opts.EventName, c.Name)
		}
	}
	eventDate := matched.Col(fmt.Sprintf("target_%s_date", opts.EventName))
	lastSeen := main.Col("last_seen_date")

	for _, d := range opts.Horizons {
		target := table.NewFloatColumn(fmt.Sprintf("target_%s_%dd", opts.EventName, d), main.Len())
		for i := range target.Floats {
			end := utils.AddDays(main.Dates[i], d)
			switch {
			case !eventDate.IsNull(i) && eventDate.Times[i].Equal(main.Dates[i]):
				target.Floats[i] = Excluded
			case !eventDate.IsNull(i):
				target.Floats[i] = asLabel(eventDate.Times[i].Before(end))
			case lastSeen != nil && (lastSeen.IsNull(i) || lastSeen.Times[i].Before(end)):
				target.Floats[i] = Excluded
			default:
				target.Floats[i] = Negative
			}
		}
		if err := matched.AddCol(target); err != nil {
			return nil, err
		}
	}
	return matched, nil
}
