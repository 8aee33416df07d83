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
)

// LastSeenSource names one table and the date column in it that counts as
// patient contact. An empty Column means the table's own date column, so the
// lab, symptom, and treatment tables contribute their observation dates
// while the dateless demographic table contributes last_contact_date.
type LastSeenSource struct {
	Table  *table.Table
	Column string
}

// DeriveLastSeen computes each patient's last contact date as the maximum
// contact date across the given sources. Used when no precomputed last seen
// extract is available.
func DeriveLastSeen(sources ...LastSeenSource) map[string]time.Time {
	lastSeen := map[string]time.Time{}
	observe := func(mrn string, d time.Time) {
		if !d.IsZero() && d.After(lastSeen[mrn]) {
			lastSeen[mrn] = d
		}
	}
	for _, s := range sources {
		if s.Column == "" {
			for i, mrn := range s.Table.MRNs {
				observe(mrn, s.Table.Dates[i])
			}
			continue
		}
		c := s.Table.Col(s.Column)
		if c == nil || c.Kind != table.Time {
			continue
		}
		for i, mrn := range s.Table.MRNs {
			observe(mrn, c.Times[i])
		}
	}
	return lastSeen
}
