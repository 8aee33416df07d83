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

package utils

import "time"

// MinInt returns the smaller of two ints.
func MinInt(x, y int) int {
	if x < y {
		return x
	}
	return y
}

// MaxInt returns the larger of two ints.
func MaxInt(x, y int) int {
	if x > y {
		return x
	}
	return y
}

// MemberString checks if a string occurs as an entry in a list of strings.
func MemberString(s string, list []string) bool {
	for _, s2 := range list {
		if s2 == s {
			return true
		}
	}
	return false
}

// Day returns the civil date part of a timestamp in UTC. All date columns
// entering the anchoring engine are normalized with this function so that day
// arithmetic is exact.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a normalized date by a number of days. Negative offsets shift
// into the past.
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// DaysBetween returns the number of whole days from t2 to t1. Both inputs must
// be normalized dates (cf. Day), otherwise partial days are truncated.
func DaysBetween(t1, t2 time.Time) int {
	return int(t1.Sub(t2).Hours() / 24)
}

// YearsBetween returns the difference between the calendar years of two dates.
func YearsBetween(t1, t2 time.Time) int {
	return t1.Year() - t2.Year()
}
