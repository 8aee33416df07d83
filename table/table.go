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

// Package table implements the in-memory tabular data model consumed and
// produced by the anchoring engine. A table is a set of rows keyed by a
// patient identifier (mrn) with at most one date column and any number of
// typed value columns. Nulls are represented by in-band sentinels: NaN for
// float columns, the empty string for string columns, and the zero time for
// date columns.
package table

import (
	"fmt"
	"math"
	"sort"
	"time"

	"clindat/utils"
)

// Kind enumerates the supported value column types.
type Kind int

const (
	Float Kind = iota
	String
	Time
)

// Column is a single typed value column. Exactly one of the value slices is
// populated, matching Kind.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Times   []time.Time
}

// NewFloatColumn creates a float column of the given length, filled with nulls.
func NewFloatColumn(name string, n int) *Column {
	floats := make([]float64, n)
	for i := range floats {
		floats[i] = math.NaN()
	}
	return &Column{Name: name, Kind: Float, Floats: floats}
}

// NewStringColumn creates a string column of the given length, filled with nulls.
func NewStringColumn(name string, n int) *Column {
	return &Column{Name: name, Kind: String, Strings: make([]string, n)}
}

// NewTimeColumn creates a date column of the given length, filled with nulls.
func NewTimeColumn(name string, n int) *Column {
	return &Column{Name: name, Kind: Time, Times: make([]time.Time, n)}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case Float:
		return len(c.Floats)
	case String:
		return len(c.Strings)
	default:
		return len(c.Times)
	}
}

// IsNull reports whether the value at row i is the null sentinel.
func (c *Column) IsNull(i int) bool {
	switch c.Kind {
	case Float:
		return math.IsNaN(c.Floats[i])
	case String:
		return c.Strings[i] == ""
	default:
		return c.Times[i].IsZero()
	}
}

// CopyValue copies the value at row si of src into row di of c. Both columns
// must have the same kind.
func (c *Column) CopyValue(di int, src *Column, si int) {
	switch c.Kind {
	case Float:
		c.Floats[di] = src.Floats[si]
	case String:
		c.Strings[di] = src.Strings[si]
	default:
		c.Times[di] = src.Times[si]
	}
}

// EmptyLike creates a null-filled column with the same name and kind as c.
func (c *Column) EmptyLike(n int) *Column {
	switch c.Kind {
	case Float:
		return NewFloatColumn(c.Name, n)
	case String:
		return NewStringColumn(c.Name, n)
	default:
		return NewTimeColumn(c.Name, n)
	}
}

// Table holds rows keyed by mrn with one date column and typed value columns.
// Tables without a date column (e.g. one row per patient demographics) have an
// empty DateName and nil Dates.
type Table struct {
	MRNs     []string
	DateName string
	Dates    []time.Time
	Cols     []*Column

	sorted bool
}

// New creates an empty table with the given date column name. Pass the empty
// string for a dateless, per-patient keyed table.
func New(dateName string) *Table {
	return &Table{DateName: dateName}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.MRNs)
}

// Col returns the value column with the given name, or nil.
func (t *Table) Col(name string) *Column {
	for _, c := range t.Cols {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColNames returns the value column names in order.
func (t *Table) ColNames() []string {
	names := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		names[i] = c.Name
	}
	return names
}

// AddCol appends a value column. The column length must match the table and
// the name must not collide with an existing column or the date column.
func (t *Table) AddCol(c *Column) error {
	if c.Len() != t.Len() {
		return fmt.Errorf("table: column %s has %d rows, table has %d", c.Name, c.Len(), t.Len())
	}
	if c.Name == "mrn" || c.Name == t.DateName || t.Col(c.Name) != nil {
		return fmt.Errorf("table: duplicate column name %s", c.Name)
	}
	t.Cols = append(t.Cols, c)
	return nil
}

// AppendRow adds a row with the given key and date and nulls in all value
// columns. Value columns must be filled in afterwards by index.
func (t *Table) AppendRow(mrn string, date time.Time) {
	t.MRNs = append(t.MRNs, mrn)
	if t.DateName != "" {
		t.Dates = append(t.Dates, utils.Day(date))
	}
	for _, c := range t.Cols {
		switch c.Kind {
		case Float:
			c.Floats = append(c.Floats, math.NaN())
		case String:
			c.Strings = append(c.Strings, "")
		default:
			c.Times = append(c.Times, time.Time{})
		}
	}
	t.sorted = false
}

// Validate checks the structural invariants required by the anchoring engine:
// no null mrn, no null date, and all columns of equal length. It fails fast
// with a descriptive error so that a broken input never reaches a join.
func (t *Table) Validate() error {
	n := t.Len()
	if t.DateName != "" && len(t.Dates) != n {
		return fmt.Errorf("table: date column %s has %d rows, table has %d", t.DateName, len(t.Dates), n)
	}
	for _, c := range t.Cols {
		if c.Len() != n {
			return fmt.Errorf("table: column %s has %d rows, table has %d", c.Name, c.Len(), n)
		}
	}
	for i, mrn := range t.MRNs {
		if mrn == "" {
			return fmt.Errorf("table: null mrn at row %d", i)
		}
		if t.DateName != "" && t.Dates[i].IsZero() {
			return fmt.Errorf("table: null %s for mrn %s at row %d", t.DateName, mrn, i)
		}
	}
	return nil
}

// permute reorders all rows of the table according to the permutation perm,
// where perm[i] is the source row of destination row i.
func (t *Table) permute(perm []int) {
	mrns := make([]string, len(perm))
	for i, p := range perm {
		mrns[i] = t.MRNs[p]
	}
	t.MRNs = mrns
	if t.DateName != "" {
		dates := make([]time.Time, len(perm))
		for i, p := range perm {
			dates[i] = t.Dates[p]
		}
		t.Dates = dates
	}
	for _, c := range t.Cols {
		nc := c.EmptyLike(len(perm))
		for i, p := range perm {
			nc.CopyValue(i, c, p)
		}
		c.Floats, c.Strings, c.Times = nc.Floats, nc.Strings, nc.Times
	}
}

// SortByPatientDate sorts the rows by (mrn, date), stably, which is the order
// every sequence-dependent operation requires. Dateless tables sort by mrn
// only.
func (t *Table) SortByPatientDate() {
	perm := make([]int, t.Len())
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		pi, pj := perm[i], perm[j]
		if t.MRNs[pi] != t.MRNs[pj] {
			return t.MRNs[pi] < t.MRNs[pj]
		}
		if t.DateName == "" {
			return false
		}
		return t.Dates[pi].Before(t.Dates[pj])
	})
	t.permute(perm)
	t.sorted = true
}

// IsSorted reports whether the table is known to be in (mrn, date) order.
// Tables freshly sorted with SortByPatientDate report true; any mutation that
// can break the order resets the flag.
func (t *Table) IsSorted() bool {
	return t.sorted
}

// Group is a contiguous range of rows [Start, End) belonging to one patient in
// a sorted table.
type Group struct {
	MRN        string
	Start, End int
}

// Groups returns the per-patient row ranges of a sorted table. It returns an
// error when the table has not been sorted, because silently grouping an
// unsorted table corrupts every windowed computation downstream.
func (t *Table) Groups() ([]Group, error) {
	if !t.sorted {
		return nil, fmt.Errorf("table: Groups called on unsorted table; call SortByPatientDate first")
	}
	var groups []Group
	for i := 0; i < t.Len(); {
		j := i + 1
		for j < t.Len() && t.MRNs[j] == t.MRNs[i] {
			j++
		}
		groups = append(groups, Group{MRN: t.MRNs[i], Start: i, End: j})
		i = j
	}
	return groups, nil
}

// GroupIndex maps each mrn to its row range in a sorted table.
func (t *Table) GroupIndex() (map[string]Group, error) {
	groups, err := t.Groups()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]Group, len(groups))
	for _, g := range groups {
		idx[g.MRN] = g
	}
	return idx, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	nt := &Table{DateName: t.DateName, sorted: t.sorted}
	nt.MRNs = append([]string(nil), t.MRNs...)
	if t.DateName != "" {
		nt.Dates = append([]time.Time(nil), t.Dates...)
	}
	for _, c := range t.Cols {
		nc := &Column{Name: c.Name, Kind: c.Kind}
		nc.Floats = append([]float64(nil), c.Floats...)
		nc.Strings = append([]string(nil), c.Strings...)
		nc.Times = append([]time.Time(nil), c.Times...)
		nt.Cols = append(nt.Cols, nc)
	}
	return nt
}

// Slice returns a copy of the rows [start, end) as a new table.
func (t *Table) Slice(start, end int) *Table {
	nt := &Table{DateName: t.DateName, sorted: t.sorted}
	nt.MRNs = append([]string(nil), t.MRNs[start:end]...)
	if t.DateName != "" {
		nt.Dates = append([]time.Time(nil), t.Dates[start:end]...)
	}
	for _, c := range t.Cols {
		nc := &Column{Name: c.Name, Kind: c.Kind}
		switch c.Kind {
		case Float:
			nc.Floats = append([]float64(nil), c.Floats[start:end]...)
		case String:
			nc.Strings = append([]string(nil), c.Strings[start:end]...)
		default:
			nc.Times = append([]time.Time(nil), c.Times[start:end]...)
		}
		nt.Cols = append(nt.Cols, nc)
	}
	return nt
}

// FilterRows returns a copy of the table containing only the rows for which
// keep returns true.
func (t *Table) FilterRows(keep func(row int) bool) *Table {
	var rows []int
	for i := 0; i < t.Len(); i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	nt := &Table{DateName: t.DateName, sorted: t.sorted}
	nt.MRNs = make([]string, len(rows))
	for i, r := range rows {
		nt.MRNs[i] = t.MRNs[r]
	}
	if t.DateName != "" {
		nt.Dates = make([]time.Time, len(rows))
		for i, r := range rows {
			nt.Dates[i] = t.Dates[r]
		}
	}
	for _, c := range t.Cols {
		nc := c.EmptyLike(len(rows))
		for i, r := range rows {
			nc.CopyValue(i, c, r)
		}
		nt.Cols = append(nt.Cols, nc)
	}
	return nt
}

// DropCols removes every value column for which drop returns true. The key
// and date columns are never dropped.
func (t *Table) DropCols(drop func(name string) bool) {
	kept := t.Cols[:0]
	for _, c := range t.Cols {
		if !drop(c.Name) {
			kept = append(kept, c)
		}
	}
	t.Cols = kept
}

// Concat appends the rows of others to a copy of t. All tables must have the
// same columns in the same order. Used to reassemble per-partition results.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("table: Concat of zero tables")
	}
	result := tables[0].Clone()
	for _, t := range tables[1:] {
		if len(t.Cols) != len(result.Cols) || t.DateName != result.DateName {
			return nil, fmt.Errorf("table: Concat of tables with mismatched schemas")
		}
		result.MRNs = append(result.MRNs, t.MRNs...)
		if result.DateName != "" {
			result.Dates = append(result.Dates, t.Dates...)
		}
		for i, c := range t.Cols {
			rc := result.Cols[i]
			if rc.Name != c.Name || rc.Kind != c.Kind {
				return nil, fmt.Errorf("table: Concat column mismatch: %s vs %s", rc.Name, c.Name)
			}
			rc.Floats = append(rc.Floats, c.Floats...)
			rc.Strings = append(rc.Strings, c.Strings...)
			rc.Times = append(rc.Times, c.Times...)
		}
	}
	return result, nil
}

// JoinOnMRN left-joins a dateless, one-row-per-patient table onto main. The
// right table must be unique on mrn; a duplicate key would fan out the join
// and violate the cardinality invariant, so it is rejected.
func JoinOnMRN(main, right *Table) (*Table, error) {
	if right.DateName != "" {
		return nil, fmt.Errorf("table: JoinOnMRN right table must be dateless, has date column %s", right.DateName)
	}
	seen := make(map[string]int, right.Len())
	for i, mrn := range right.MRNs {
		if _, ok := seen[mrn]; ok {
			return nil, fmt.Errorf("table: JoinOnMRN right table has duplicate mrn %s", mrn)
		}
		seen[mrn] = i
	}
	result := main.Clone()
	n := result.Len()
	for _, c := range right.Cols {
		nc := c.EmptyLike(n)
		for i, mrn := range main.MRNs {
			if ri, ok := seen[mrn]; ok {
				nc.CopyValue(i, c, ri)
			}
		}
		if err := result.AddCol(nc); err != nil {
			return nil, err
		}
	}
	if result.Len() != main.Len() {
		return nil, fmt.Errorf("table: JoinOnMRN changed row count from %d to %d", main.Len(), result.Len())
	}
	return result, nil
}

// MRNSet returns the set of distinct patient identifiers in the table.
func (t *Table) MRNSet() map[string]bool {
	set := map[string]bool{}
	for _, mrn := range t.MRNs {
		set[mrn] = true
	}
	return set
}
