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
	"math"
	"testing"
	"time"

	"clindat/table"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// measRow is one measurement used to build test tables.
type measRow struct {
	mrn  string
	date string
	vals map[string]float64 // absent keys stay null
}

func newMeasTable(t *testing.T, dateName string, cols []string, rows []measRow) *table.Table {
	t.Helper()
	mt := table.New(dateName)
	byName := map[string]*table.Column{}
	for _, name := range cols {
		c := table.NewFloatColumn(name, 0)
		if err := mt.AddCol(c); err != nil {
			t.Fatal(err)
		}
		byName[name] = c
	}
	for _, r := range rows {
		mt.AppendRow(r.mrn, day(t, r.date))
		for name, v := range r.vals {
			byName[name].Floats[len(byName[name].Floats)-1] = v
		}
	}
	mt.SortByPatientDate()
	return mt
}

func newMainTable(t *testing.T, rows []measRow) *table.Table {
	t.Helper()
	return newMeasTable(t, "visit_date", nil, rows)
}

func TestWindowValidate(t *testing.T) {
	if err := (Window{Lower: 1, Upper: -1}).Validate(); err == nil {
		t.Error("accepted a window with lower > upper")
	}
	if err := (Window{Lower: -30, Upper: 0}).Validate(); err != nil {
		t.Errorf("rejected a valid window: %v", err)
	}
}

// The backward nearest match over window [-10, -3] and the forward match
// over [2, 8] exercise both directions of the shifted single sided search.
func TestMatchPerColumnWindows(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"hgb"}, []measRow{
		{"p1", "2020-01-01", map[string]float64{"hgb": 90}},
		{"p1", "2020-01-06", map[string]float64{"hgb": 95}},
		{"p1", "2020-01-20", map[string]float64{"hgb": 85}},
	})
	main := newMainTable(t, []measRow{
		{"p1", "2020-01-10", nil},
	})

	// backward: anchor at ref-3, tolerance 7 days, so the 01-06 row matches
	got, err := MatchPerColumn(main, meas, MatchOpts{
		Direction: Backward,
		Window:    Window{Lower: -10, Upper: -3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("hgb").Floats[0]; v != 95 {
		t.Errorf("backward match got %v, want 95", v)
	}

	// forward: anchor at ref+2, tolerance 6 days, no measurement in
	// [01-12, 01-18], so the result is null
	got, err = MatchPerColumn(main, meas, MatchOpts{
		Direction: Forward,
		Window:    Window{Lower: 2, Upper: 8},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("hgb").Floats[0]; !math.IsNaN(v) {
		t.Errorf("forward match got %v, want null", v)
	}

	// widening the forward window to [2, 10] reaches the 01-20 row
	got, err = MatchPerColumn(main, meas, MatchOpts{
		Direction: Forward,
		Window:    Window{Lower: 2, Upper: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("hgb").Floats[0]; v != 85 {
		t.Errorf("widened forward match got %v, want 85", v)
	}
}

func TestMatchExactDateAllowed(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"hgb"}, []measRow{
		{"p1", "2020-01-10", map[string]float64{"hgb": 88}},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := MatchPerColumn(main, meas, MatchOpts{
		Direction: Backward,
		Window:    Window{Lower: -7, Upper: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("hgb").Floats[0]; v != 88 {
		t.Errorf("same day measurement not matched, got %v", v)
	}
}

func TestMatchPerColumnPicksNearestNonNull(t *testing.T) {
	// hgb is null on the nearest row, so the match must skip to the nearest
	// row where hgb is present
	meas := newMeasTable(t, "obs_date", []string{"hgb", "plt"}, []measRow{
		{"p1", "2020-01-05", map[string]float64{"hgb": 92}},
		{"p1", "2020-01-09", map[string]float64{"plt": 150}},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := MatchPerColumn(main, meas, MatchOpts{
		Direction: Backward,
		Window:    Window{Lower: -7, Upper: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("hgb").Floats[0]; v != 92 {
		t.Errorf("got hgb %v, want 92", v)
	}
	if v := got.Col("plt").Floats[0]; v != 150 {
		t.Errorf("got plt %v, want 150", v)
	}
}

func TestMatchNoCrossPatientLeakage(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"hgb"}, []measRow{
		{"p2", "2020-01-09", map[string]float64{"hgb": 70}},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := MatchPerColumn(main, meas, MatchOpts{
		Direction: Backward,
		Window:    Window{Lower: -7, Upper: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("hgb").Floats[0]; !math.IsNaN(v) {
		t.Errorf("measurement of another patient leaked: %v", v)
	}
}

func TestMatchRejectsUnsorted(t *testing.T) {
	meas := table.New("obs_date")
	meas.AppendRow("p1", day(t, "2020-01-02"))
	meas.AppendRow("p1", day(t, "2020-01-01"))
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	_, err := MatchPerColumn(main, meas, MatchOpts{
		Direction: Backward,
		Window:    Window{Lower: -7, Upper: 0},
	})
	if err == nil {
		t.Error("accepted an unsorted measurement table")
	}
}

func TestAggregateLastForwardFills(t *testing.T) {
	// row 1 has a=1 and null b, row 2 has null a and b=2; the last known
	// values are a=1, b=2
	meas := newMeasTable(t, "obs_date", []string{"a", "b"}, []measRow{
		{"p1", "2020-01-03", map[string]float64{"a": 1}},
		{"p1", "2020-01-05", map[string]float64{"b": 2}},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := Aggregate(main, meas, AggOpts{
		Stats:           []Stat{Last},
		Window:          Window{Lower: -28, Upper: 0},
		IncludeMeasDate: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("a_LAST").Floats[0]; v != 1 {
		t.Errorf("got a_LAST %v, want 1", v)
	}
	if v := got.Col("b_LAST").Floats[0]; v != 2 {
		t.Errorf("got b_LAST %v, want 2", v)
	}
	if d := got.Col("obs_date_LAST").Times[0]; !d.Equal(day(t, "2020-01-05")) {
		t.Errorf("got last date %v", d)
	}
}

func TestAggregateStats(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"v"}, []measRow{
		{"p1", "2020-01-02", map[string]float64{"v": 3}},
		{"p1", "2020-01-04", map[string]float64{"v": 1}},
		{"p1", "2020-01-06", map[string]float64{"v": 5}},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := Aggregate(main, meas, AggOpts{
		Stats:           []Stat{First, Sum, Avg, Max, Min, Count},
		Window:          Window{Lower: -28, Upper: 0},
		IncludeMeasDate: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		col  string
		want float64
	}{
		{"v_FIRST", 3},
		{"v_SUM", 9},
		{"v_AVG", 3},
		{"v_MAX", 5},
		{"v_MIN", 1},
		{"v_COUNT", 3},
	}
	for _, c := range checks {
		if v := got.Col(c.col).Floats[0]; v != c.want {
			t.Errorf("%s: got %v, want %v", c.col, v, c.want)
		}
	}
	if d := got.Col("v_MAX_date").Times[0]; !d.Equal(day(t, "2020-01-06")) {
		t.Errorf("got max date %v", d)
	}
	if d := got.Col("v_MIN_date").Times[0]; !d.Equal(day(t, "2020-01-04")) {
		t.Errorf("got min date %v", d)
	}
}

func TestAggregateEmptyWindow(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"v"}, []measRow{
		{"p1", "2019-01-01", map[string]float64{"v": 3}},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := Aggregate(main, meas, AggOpts{
		Stats:  []Stat{Sum, Count},
		Window: Window{Lower: -28, Upper: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	// an empty window sums to null, never zero
	if v := got.Col("v_SUM").Floats[0]; !math.IsNaN(v) {
		t.Errorf("empty window sum got %v, want null", v)
	}
	// counts default to zero instead
	if v := got.Col("v_COUNT").Floats[0]; v != 0 {
		t.Errorf("empty window count got %v, want 0", v)
	}
}

func TestAggregatePreservesCardinality(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"v"}, []measRow{
		{"p1", "2020-01-02", map[string]float64{"v": 1}},
		{"p1", "2020-01-02", map[string]float64{"v": 2}},
		{"p1", "2020-01-03", map[string]float64{"v": 3}},
	})
	main := newMainTable(t, []measRow{
		{"p1", "2020-01-10", nil},
		{"p1", "2020-01-15", nil},
		{"p2", "2020-01-10", nil},
	})
	got, err := Aggregate(main, meas, AggOpts{
		Stats:  []Stat{Sum},
		Window: Window{Lower: -28, Upper: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != main.Len() {
		t.Fatalf("row count changed from %d to %d", main.Len(), got.Len())
	}
}

func TestEventFeaturesStrictUpperBound(t *testing.T) {
	event := newMeasTable(t, "event_date", nil, []measRow{
		{"p1", "2019-06-01", nil},
		{"p1", "2020-01-10", nil}, // same day as the reference, not prior
		{"p1", "2021-01-01", nil},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})
	got, err := EventFeatures(main, event, EventOpts{
		EventName:     "ED_visit",
		LookbackYears: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("num_prior_ED_visits_within_5_years").Floats[0]; v != 1 {
		t.Errorf("got %v prior events, want 1", v)
	}
	if v := got.Col("days_since_prev_ED_visit").Floats[0]; v != 223 {
		t.Errorf("got %v days since previous event, want 223", v)
	}
}

func TestEventFeaturesMissingPolicies(t *testing.T) {
	event := newMeasTable(t, "event_date", nil, []measRow{
		{"p2", "2019-06-01", nil},
	})
	main := newMainTable(t, []measRow{{"p1", "2020-01-10", nil}})

	got, err := EventFeatures(main, event, EventOpts{
		EventName:     "ED_visit",
		LookbackYears: 5,
		MissingDays:   MissingNull,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("days_since_prev_ED_visit").Floats[0]; !math.IsNaN(v) {
		t.Errorf("MissingNull got %v, want null", v)
	}

	got, err = EventFeatures(main, event, EventOpts{
		EventName:     "ED_visit",
		LookbackYears: 5,
		MissingDays:   MissingMaxFill,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("days_since_prev_ED_visit").Floats[0]; v != 5*365 {
		t.Errorf("MissingMaxFill got %v, want %v", v, 5*365)
	}
}

func TestPartitionNeverSplitsPatients(t *testing.T) {
	main := newMainTable(t, []measRow{
		{"p1", "2020-01-01", nil},
		{"p1", "2020-01-02", nil},
		{"p2", "2020-01-01", nil},
		{"p3", "2020-01-01", nil},
		{"p3", "2020-01-02", nil},
		{"p3", "2020-01-03", nil},
	})
	parts, err := Partition(main, 3)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]int{}
	total := 0
	for pi, p := range parts {
		total += p.Len()
		for _, mrn := range p.MRNs {
			if prev, ok := seen[mrn]; ok && prev != pi {
				t.Errorf("patient %s split across partitions %d and %d", mrn, prev, pi)
			}
			seen[mrn] = pi
		}
	}
	if total != main.Len() {
		t.Errorf("partitions hold %d rows, want %d", total, main.Len())
	}
}

func TestParallelApplyMatchesSerial(t *testing.T) {
	meas := newMeasTable(t, "obs_date", []string{"v"}, []measRow{
		{"p1", "2020-01-02", map[string]float64{"v": 1}},
		{"p2", "2020-01-03", map[string]float64{"v": 2}},
		{"p3", "2020-01-04", map[string]float64{"v": 3}},
	})
	main := newMainTable(t, []measRow{
		{"p1", "2020-01-10", nil},
		{"p2", "2020-01-10", nil},
		{"p3", "2020-01-10", nil},
	})
	apply := func(part *table.Table) (*table.Table, error) {
		return MatchPerColumn(part, meas, MatchOpts{
			Direction: Backward,
			Window:    Window{Lower: -28, Upper: 0},
		})
	}
	serial, err := apply(main)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := ParallelApply(main, 3, apply)
	if err != nil {
		t.Fatal(err)
	}
	if parallel.Len() != serial.Len() {
		t.Fatalf("got %d rows, want %d", parallel.Len(), serial.Len())
	}
	for i := range serial.MRNs {
		if parallel.MRNs[i] != serial.MRNs[i] {
			t.Errorf("row %d: got mrn %s, want %s", i, parallel.MRNs[i], serial.MRNs[i])
		}
		if parallel.Col("v").Floats[i] != serial.Col("v").Floats[i] {
			t.Errorf("row %d: got v %v, want %v", i, parallel.Col("v").Floats[i], serial.Col("v").Floats[i])
		}
	}
}
