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

// newLabTable builds a lab table with hemoglobin and creatinine columns.
func newLabTable(t *testing.T, rows []struct {
	mrn, date string
	hgb, crea float64
}) *table.Table {
	t.Helper()
	lt := table.New("obs_date")
	hgb := table.NewFloatColumn("hemoglobin", 0)
	crea := table.NewFloatColumn("creatinine", 0)
	if err := lt.AddCol(hgb); err != nil {
		t.Fatal(err)
	}
	if err := lt.AddCol(crea); err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		lt.AppendRow(r.mrn, day(t, r.date))
		hgb.Floats[i] = r.hgb
		crea.Floats[i] = r.crea
	}
	lt.SortByPatientDate()
	return lt
}

func newVisitTable(t *testing.T, rows []struct{ mrn, date string }) *table.Table {
	t.Helper()
	vt := table.New("assessment_date")
	for _, r := range rows {
		vt.AppendRow(r.mrn, day(t, r.date))
	}
	vt.SortByPatientDate()
	return vt
}

func TestCTCAEGrading(t *testing.T) {
	lab := newLabTable(t, []struct {
		mrn, date string
		hgb, crea float64
	}{
		{"p1", "2020-01-15", 70, 60},  // grade 3+ anemia in the lookahead
		{"p2", "2020-01-15", 95, 60},  // grade 2+ but not 3+
		{"p3", "2020-01-15", 110, 60}, // normal
	})
	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
		{"p2", "2020-01-01"},
		{"p3", "2020-01-01"},
		{"p4", "2020-01-01"}, // no labs at all
	})
	got, err := CTCAE(main, lab, 30, DefaultCTCAEConstants())
	if err != nil {
		t.Fatal(err)
	}
	g2 := got.Col("target_hemoglobin_grade2plus")
	g3 := got.Col("target_hemoglobin_grade3plus")
	if g2 == nil || g3 == nil {
		t.Fatal("missing hemoglobin label columns")
	}
	wantG2 := []float64{Positive, Positive, Negative, Excluded}
	wantG3 := []float64{Positive, Negative, Negative, Excluded}
	for i := range wantG2 {
		if g2.Floats[i] != wantG2[i] {
			t.Errorf("row %d: grade2plus got %v, want %v", i, g2.Floats[i], wantG2[i])
		}
		if g3.Floats[i] != wantG3[i] {
			t.Errorf("row %d: grade3plus got %v, want %v", i, g3.Floats[i], wantG3[i])
		}
	}
	if v := got.Col("target_hemoglobin_min").Floats[0]; v != 70 {
		t.Errorf("got lookahead min %v, want 70", v)
	}
}

func TestCTCAEMissingBaselineUsesULN(t *testing.T) {
	// creatinine spikes to 900 umol/L in the lookahead with no baseline on
	// the main row: baseline falls back to the ULN 353.68, and 900 exceeds
	// 1.5x but not 3.0x of it
	lab := newLabTable(t, []struct {
		mrn, date string
		hgb, crea float64
	}{
		{"p1", "2020-01-15", 120, 900},
	})
	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
	})
	got, err := CTCAE(main, lab, 30, DefaultCTCAEConstants())
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("target_AKI_grade2plus").Floats[0]; v != Positive {
		t.Errorf("grade2plus got %v, want positive", v)
	}
	if v := got.Col("target_AKI_grade3plus").Floats[0]; v != Negative {
		t.Errorf("grade3plus got %v, want negative", v)
	}
}

func TestCTCAEBaselineCapForAKI(t *testing.T) {
	// a patient with chronically elevated creatinine (500) above the ULN:
	// the AKI baseline is capped at the ULN, so 900 in the lookahead is
	// still over 1.5x the capped baseline
	lab := newLabTable(t, []struct {
		mrn, date string
		hgb, crea float64
	}{
		{"p1", "2019-12-30", 120, 500},
		{"p1", "2020-01-15", 120, 900},
	})
	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
	})
	// put the baseline on the main row the way the pipeline does
	base := table.NewFloatColumn("creatinine", 1)
	base.Floats[0] = 500
	if err := main.AddCol(base); err != nil {
		t.Fatal(err)
	}
	got, err := CTCAE(main, lab, 30, DefaultCTCAEConstants())
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("target_AKI_grade2plus").Floats[0]; v != Positive {
		t.Errorf("grade2plus got %v, want positive", v)
	}
}

func newSymptomTable(t *testing.T, rows []struct {
	mrn, date string
	pain      float64
}) *table.Table {
	t.Helper()
	st := table.New("survey_date")
	pain := table.NewFloatColumn("pain", 0)
	if err := st.AddCol(pain); err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		st.AppendRow(r.mrn, day(t, r.date))
		pain.Floats[i] = r.pain
	}
	st.SortByPatientDate()
	return st
}

func TestSymptomDeterioration(t *testing.T) {
	sym := newSymptomTable(t, []struct {
		mrn, date string
		pain      float64
	}{
		{"p1", "2020-01-10", 6}, // +4 over baseline 2
		{"p2", "2020-01-10", 3}, // +1 over baseline 2
	})
	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
		{"p2", "2020-01-01"},
		{"p3", "2020-01-01"}, // no lookahead survey
		{"p4", "2020-01-01"}, // baseline too high for a 3 point rise
	})
	base := table.NewFloatColumn("pain", 4)
	base.Floats[0], base.Floats[1], base.Floats[2], base.Floats[3] = 2, 2, 2, 9
	if err := main.AddCol(base); err != nil {
		t.Fatal(err)
	}
	got, err := Symptom(main, sym, 30, map[string]int{"pain": 3})
	if err != nil {
		t.Fatal(err)
	}
	target := got.Col("target_pain_3pt_change")
	want := []float64{Positive, Negative, Excluded, Excluded}
	for i, w := range want {
		if target.Floats[i] != w {
			t.Errorf("row %d: got %v, want %v", i, target.Floats[i], w)
		}
	}
}

func TestSymptomSameDaySurveyNotLookahead(t *testing.T) {
	// the lookahead window starts the day after the visit
	sym := newSymptomTable(t, []struct {
		mrn, date string
		pain      float64
	}{
		{"p1", "2020-01-01", 9},
	})
	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
	})
	base := table.NewFloatColumn("pain", 1)
	base.Floats[0] = 2
	if err := main.AddCol(base); err != nil {
		t.Fatal(err)
	}
	got, err := Symptom(main, sym, 30, map[string]int{"pain": 3})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("target_pain_3pt_change").Floats[0]; v != Excluded {
		t.Errorf("got %v, want excluded", v)
	}
}

func newDeathTable(t *testing.T, rows []struct {
	mrn, visit, death, lastSeen string
}) *table.Table {
	t.Helper()
	vt := table.New("assessment_date")
	death := table.NewTimeColumn("date_of_death", 0)
	lastSeen := table.NewTimeColumn("last_seen_date", 0)
	if err := vt.AddCol(death); err != nil {
		t.Fatal(err)
	}
	if err := vt.AddCol(lastSeen); err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		vt.AppendRow(r.mrn, day(t, r.visit))
		if r.death != "" {
			death.Times[i] = day(t, r.death)
		}
		if r.lastSeen != "" {
			lastSeen.Times[i] = day(t, r.lastSeen)
		}
	}
	vt.SortByPatientDate()
	return vt
}

func TestDeathLabels(t *testing.T) {
	vt := newDeathTable(t, []struct {
		mrn, visit, death, lastSeen string
	}{
		{"p1", "2020-01-01", "2020-01-20", "2020-01-19"}, // dies within 30d
		{"p2", "2020-01-01", "2020-06-01", "2020-05-30"}, // dies within 365d only
		{"p3", "2020-01-01", "", "2021-06-01"},           // alive through both horizons
		{"p4", "2020-01-01", "", "2020-01-15"},           // lost to follow up
		{"p5", "2020-01-01", "2020-01-20", "2020-02-01"}, // seen after recorded death
	})
	if err := Death(vt, []int{30, 365}); err != nil {
		t.Fatal(err)
	}
	d30 := vt.Col("target_death_in_30d")
	d365 := vt.Col("target_death_in_365d")
	want30 := []float64{Positive, Negative, Negative, Excluded, Excluded}
	want365 := []float64{Positive, Positive, Negative, Excluded, Excluded}
	for i := range want30 {
		if d30.Floats[i] != want30[i] {
			t.Errorf("row %d: 30d got %v, want %v", i, d30.Floats[i], want30[i])
		}
		if d365.Floats[i] != want365[i] {
			t.Errorf("row %d: 365d got %v, want %v", i, d365.Floats[i], want365[i])
		}
	}
}

func TestAcuteCareLabels(t *testing.T) {
	event := table.New("event_date")
	event.AppendRow("p1", day(t, "2020-01-10")) // 9 days after the visit
	event.AppendRow("p2", day(t, "2020-01-01")) // same day as the visit
	event.AppendRow("p3", day(t, "2020-02-15")) // beyond the horizon
	event.SortByPatientDate()

	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
		{"p2", "2020-01-01"},
		{"p3", "2020-01-01"},
		{"p4", "2020-01-01"}, // no event at all
	})
	lastSeen := table.NewTimeColumn("last_seen_date", 4)
	for i := range lastSeen.Times {
		lastSeen.Times[i] = day(t, "2021-01-01")
	}
	if err := main.AddCol(lastSeen); err != nil {
		t.Fatal(err)
	}

	got, err := AcuteCare(main, event, AcuteOpts{EventName: "ED", Horizons: []int{30, 60}})
	if err != nil {
		t.Fatal(err)
	}
	d30 := got.Col("target_ED_30d")
	want := []float64{Positive, Excluded, Negative, Negative}
	for i, w := range want {
		if d30.Floats[i] != w {
			t.Errorf("row %d: got %v, want %v", i, d30.Floats[i], w)
		}
	}
	d60 := got.Col("target_ED_60d")
	if d60.Floats[2] != Positive {
		t.Errorf("60d horizon got %v, want positive", d60.Floats[2])
	}
	if d := got.Col("target_ED_date").Times[0]; !d.Equal(day(t, "2020-01-10")) {
		t.Errorf("got matched event date %v", d)
	}
}

func TestAcuteCareCensorsShortFollowUp(t *testing.T) {
	event := table.New("event_date")
	event.AppendRow("p2", day(t, "2020-06-01"))
	event.SortByPatientDate()

	main := newVisitTable(t, []struct{ mrn, date string }{
		{"p1", "2020-01-01"},
	})
	lastSeen := table.NewTimeColumn("last_seen_date", 1)
	lastSeen.Times[0] = day(t, "2020-01-10")
	if err := main.AddCol(lastSeen); err != nil {
		t.Fatal(err)
	}
	got, err := AcuteCare(main, event, AcuteOpts{EventName: "ED", Horizons: []int{30}})
	if err != nil {
		t.Fatal(err)
	}
	if v := got.Col("target_ED_30d").Floats[0]; v != Excluded {
		t.Errorf("got %v, want excluded", v)
	}
}
