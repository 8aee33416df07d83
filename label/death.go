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

	"clindat/table"
	"clindat/utils"
)

// Death appends a target_death_in_{d}d column per horizon. A row is positive
// when the recorded death falls strictly before reference date + d days. Two
// exclusion rules apply:
//
// A patient seen alive after their recorded death date has contradictory
// records, so every row of that patient is -1.
//
// A row with no recorded death is negative only when the patient was seen at
// or after the horizon's end; otherwise survival through the horizon is not
// established and the row is -1.
//
// The table must carry date_of_death and last_seen_date columns.
func Death(t *table.Table, horizons []int) error {
	if len(horizons) == 0 {
		return fmt.Errorf("label: Death requires at least one horizon")
	}
	death := t.Col("date_of_death")
	lastSeen := t.Col("last_seen_date")
	if death == nil || death.Kind != table.Time {
		return fmt.Errorf("label: Death needs a date_of_death date column")
	}
	if lastSeen == nil || lastSeen.Kind != table.Time {
		return fmt.Errorf("label: Death needs a last_seen_date date column")
	}
	for _, d := range horizons {
		if d < 1 {
			return fmt.Errorf("label: Death horizon of %d days", d)
		}
		target := table.NewFloatColumn(fmt.Sprintf("target_death_in_%dd", d), t.Len())
		for i := range target.Floats {
			ghost := !death.IsNull(i) && !lastSeen.IsNull(i) && lastSeen.Times[i].After(death.Times[i])
			end := utils.AddDays(t.Dates[i], d)
			switch {
			case ghost:
				target.Floats[i] = Excluded
			case !death.IsNull(i):
				target.Floats[i] = asLabel(death.Times[i].Before(end))
			case !lastSeen.IsNull(i) && !lastSeen.Times[i].Before(end):
				target.Floats[i] = Negative
			default:
				target.Floats[i] = Excluded
			}
		}
		if err := t.AddCol(target); err != nil {
			return err
		}
	}
	return nil
}
