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
	"math"
	"strings"
	"testing"
	"time"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newVisits(t *testing.T) *Table {
	t.Helper()
	vt := New("visit_date")
	score := NewFloatColumn("score", 0)
	note := NewStringColumn("note", 0)
	if err := vt.AddCol(score); err != nil {
		t.Fatal(err)
	}
	if err := vt.AddCol(note); err != nil {
		t.Fatal(err)
	}
	rows := []struct {
		mrn   string
		date  string
		score float64
		note  string
	}{
		{"p2", "2020-01-05", 2, "b"},
		{"p1", "2020-02-01", 3, "c"},
		{"p1", "2020-01-01", 1, "a"},
		{"p2", "2020-01-05", 4, ""},
	}
	for _, r := range rows {
		vt.AppendRow(r.mrn, day(t, r.date))
		score.Floats[len(score.Floats)-1] = r.score
		note.Strings[len(note.Strings)-1] = r.note
	}
	return vt
}

func TestSortByPatientDate(t *testing.T) {
	vt := newVisits(t)
	if vt.IsSorted() {
		t.Error("table reports sorted before sorting")
	}
	vt.SortByPatientDate()
	if !vt.IsSorted() {
		t.Error("table reports unsorted after sorting")
	}
	wantMRNs := []string{"p1", "p1", "p2", "p2"}
	wantScores := []float64{1, 3, 2, 4}
	for i := range wantMRNs {
		if vt.MRNs[i] != wantMRNs[i] {
			t.Errorf("row %d: got mrn %s, want %s", i, vt.MRNs[i], wantMRNs[i])
		}
		if got := vt.Col("score").Floats[i]; got != wantScores[i] {
			t.Errorf("row %d: got score %v, want %v", i, got, wantScores[i])
		}
	}
}

func TestGroupsRequireSorted(t *testing.T) {
	vt := newVisits(t)
	if _, err := vt.Groups(); err == nil {
		t.Fatal("Groups accepted an unsorted table")
	}
	vt.SortByPatientDate()
	groups, err := vt.Groups()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].MRN != "p1" || groups[0].End-groups[0].Start != 2 {
		t.Errorf("unexpected first group: %+v", groups[0])
	}
}

func TestValidateRejectsNullKeys(t *testing.T) {
	vt := New("visit_date")
	vt.AppendRow("", day(t, "2020-01-01"))
	if err := vt.Validate(); err == nil {
		t.Error("Validate accepted a null mrn")
	}
	vt2 := New("visit_date")
	vt2.AppendRow("p1", time.Time{})
	if err := vt2.Validate(); err == nil {
		t.Error("Validate accepted a null date")
	}
}

func TestCollapseSameDay(t *testing.T) {
	vt := newVisits(t)
	vt.SortByPatientDate()
	collapsed, err := vt.CollapseSameDay(CollapseMax)
	if err != nil {
		t.Fatal(err)
	}
	if collapsed.Len() != 3 {
		t.Fatalf("got %d rows, want 3", collapsed.Len())
	}
	// p2 has two rows on 2020-01-05 with scores 2 and 4
	if got := collapsed.Col("score").Floats[2]; got != 4 {
		t.Errorf("got collapsed score %v, want 4", got)
	}
	// string columns keep the last non-null value
	if got := collapsed.Col("note").Strings[2]; got != "b" {
		t.Errorf("got collapsed note %q, want %q", got, "b")
	}
	// idempotent: collapsing again changes nothing
	again, err := collapsed.CollapseSameDay(CollapseMax)
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != collapsed.Len() {
		t.Errorf("second collapse changed row count from %d to %d", collapsed.Len(), again.Len())
	}
}

func TestCollapseConcat(t *testing.T) {
	vt := newVisits(t)
	note := vt.Col("note")
	note.Strings[3] = "d"
	vt.SortByPatientDate()
	collapsed, err := vt.CollapseSameDay(CollapseConcat)
	if err != nil {
		t.Fatal(err)
	}
	if got := collapsed.Col("note").Strings[2]; got != "b"+ConcatDelimiter+"d" {
		t.Errorf("got concatenated note %q", got)
	}
}

func TestCollapseSameDayByColumn(t *testing.T) {
	vt := newVisits(t)
	vt.SortByPatientDate()
	collapsed, err := vt.CollapseSameDayBy(func(col string) CollapsePolicy {
		if col == "score" {
			return CollapseSum
		}
		return CollapseLast
	})
	if err != nil {
		t.Fatal(err)
	}
	if collapsed.Len() != 3 {
		t.Fatalf("got %d rows, want 3", collapsed.Len())
	}
	// p2's scores 2 and 4 on 2020-01-05 are summed, the note keeps the last
	// non-null value
	if got := collapsed.Col("score").Floats[2]; got != 6 {
		t.Errorf("got collapsed score %v, want 6", got)
	}
	if got := collapsed.Col("note").Strings[2]; got != "b" {
		t.Errorf("got collapsed note %q, want %q", got, "b")
	}
}

func TestJoinOnMRN(t *testing.T) {
	vt := newVisits(t)
	vt.SortByPatientDate()

	right := New("")
	sex := NewStringColumn("sex", 0)
	if err := right.AddCol(sex); err != nil {
		t.Fatal(err)
	}
	right.AppendRow("p1", time.Time{})
	sex.Strings[0] = "F"
	right.AppendRow("p2", time.Time{})
	sex.Strings[1] = "M"

	joined, err := JoinOnMRN(vt, right)
	if err != nil {
		t.Fatal(err)
	}
	if joined.Len() != vt.Len() {
		t.Fatalf("join changed row count from %d to %d", vt.Len(), joined.Len())
	}
	want := []string{"F", "F", "M", "M"}
	for i, w := range want {
		if got := joined.Col("sex").Strings[i]; got != w {
			t.Errorf("row %d: got sex %q, want %q", i, got, w)
		}
	}
}

func TestJoinRejectsDuplicateRight(t *testing.T) {
	vt := newVisits(t)
	vt.SortByPatientDate()
	right := New("")
	right.AppendRow("p1", time.Time{})
	right.AppendRow("p1", time.Time{})
	if _, err := JoinOnMRN(vt, right); err == nil {
		t.Error("JoinOnMRN accepted a right table with duplicate mrns")
	}
}

func TestFilterRowsPreservesOrder(t *testing.T) {
	vt := newVisits(t)
	vt.SortByPatientDate()
	kept := vt.FilterRows(func(i int) bool { return vt.MRNs[i] == "p1" })
	if kept.Len() != 2 {
		t.Fatalf("got %d rows, want 2", kept.Len())
	}
	if !kept.IsSorted() {
		t.Error("filtering lost the sorted flag")
	}
}

func TestConcatRestoresPartitions(t *testing.T) {
	vt := newVisits(t)
	vt.SortByPatientDate()
	a, b := vt.Slice(0, 2), vt.Slice(2, 4)
	joined, err := Concat(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if joined.Len() != vt.Len() {
		t.Fatalf("got %d rows, want %d", joined.Len(), vt.Len())
	}
	for i := range vt.MRNs {
		if joined.MRNs[i] != vt.MRNs[i] || !joined.Dates[i].Equal(vt.Dates[i]) {
			t.Errorf("row %d differs after concat", i)
		}
	}
}

func TestReadWriteCSV(t *testing.T) {
	input := "mrn,visit_date,score,note\n" +
		"p1,2020-01-01,1.5,hello\n" +
		"p1,2020-02-01,,\n"
	vt, err := ReadCSV(strings.NewReader(input), "visit_date")
	if err != nil {
		t.Fatal(err)
	}
	if vt.Len() != 2 {
		t.Fatalf("got %d rows, want 2", vt.Len())
	}
	score := vt.Col("score")
	if score.Kind != Float {
		t.Fatalf("score column inferred as %v, want Float", score.Kind)
	}
	if score.Floats[0] != 1.5 || !math.IsNaN(score.Floats[1]) {
		t.Errorf("got scores %v", score.Floats)
	}

	var sb strings.Builder
	if err := vt.WriteCSV(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, "p1,2020-01-01,1.5,hello") {
		t.Errorf("unexpected csv output:\n%s", out)
	}
	// null cells stay empty
	if !strings.Contains(out, "p1,2020-02-01,,") {
		t.Errorf("null cells not written as empty:\n%s", out)
	}
}

func TestReadCSVRequiresMRN(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("id,visit_date\n1,2020-01-01\n"), "visit_date"); err == nil {
		t.Error("ReadCSV accepted a table without an mrn column")
	}
}

func TestDateSuffixColumnsParseAsDates(t *testing.T) {
	input := "mrn,visit_date,first_treatment_date\np1,2020-01-05,2019-12-01\n"
	vt, err := ReadCSV(strings.NewReader(input), "visit_date")
	if err != nil {
		t.Fatal(err)
	}
	c := vt.Col("first_treatment_date")
	if c.Kind != Time {
		t.Fatalf("first_treatment_date inferred as %v, want Time", c.Kind)
	}
	if !c.Times[0].Equal(day(t, "2019-12-01")) {
		t.Errorf("got %v", c.Times[0])
	}
}

func TestDateKindInference(t *testing.T) {
	input := "mrn,date_of_birth,cancer_site_lung,intent\n" +
		"p1,1960-05-01,,PALLIATIVE\n" +
		"p2,1955-03-01,2019-06-01,CURATIVE\n"
	vt, err := ReadCSV(strings.NewReader(input), "")
	if err != nil {
		t.Fatal(err)
	}
	// the date_of_ prefix decides by name
	if got := vt.Col("date_of_birth").Kind; got != Time {
		t.Errorf("date_of_birth inferred as %v, want Time", got)
	}
	// the diagnosis column decides by its first non-empty value
	site := vt.Col("cancer_site_lung")
	if site.Kind != Time {
		t.Fatalf("cancer_site_lung inferred as %v, want Time", site.Kind)
	}
	if !site.IsNull(0) || !site.Times[1].Equal(day(t, "2019-06-01")) {
		t.Errorf("got diagnosis dates %v", site.Times)
	}
	if got := vt.Col("intent").Kind; got != String {
		t.Errorf("intent inferred as %v, want String", got)
	}
}
