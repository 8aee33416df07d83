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
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/carbocation/pfx"

	"clindat/utils"
)

// ReadCSV reads a wide table from a CSV stream. The file must have an mrn
// column. dateCol names the table's date column ("" for dateless tables).
// Column kinds are inferred from the header and values: columns with a
// date-like name are parsed as dates, columns whose first non-empty value
// parses as a float or a date become floats or dates, everything else is a
// string. Date values are parsed leniently because the two source systems
// emit different formats.
func ReadCSV(r io.Reader, dateCol string) (*Table, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, pfx.Err(err)
	}
	mrnIdx, dateIdx := -1, -1
	for i, name := range header {
		if name == "mrn" {
			mrnIdx = i
		}
		if dateCol != "" && name == dateCol {
			dateIdx = i
		}
	}
	if mrnIdx < 0 {
		return nil, fmt.Errorf("table: csv input is missing the mrn column")
	}
	if dateCol != "" && dateIdx < 0 {
		return nil, fmt.Errorf("table: csv input is missing the %s column", dateCol)
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}
		records = append(records, record)
	}

	t := New(dateCol)
	kinds := inferKinds(header, records, mrnIdx, dateIdx)
	for i, name := range header {
		if i == mrnIdx || i == dateIdx {
			continue
		}
		switch kinds[i] {
		case Float:
			t.Cols = append(t.Cols, NewFloatColumn(name, 0))
		case Time:
			t.Cols = append(t.Cols, NewTimeColumn(name, 0))
		default:
			t.Cols = append(t.Cols, NewStringColumn(name, 0))
		}
	}

	for ri, record := range records {
		var date time.Time
		if dateIdx >= 0 {
			date, err = parseDate(record[dateIdx])
			if err != nil {
				return nil, fmt.Errorf("table: row %d: bad %s value %q: %w", ri+1, dateCol, record[dateIdx], err)
			}
		}
		t.AppendRow(record[mrnIdx], date)
		row := t.Len() - 1
		ci := 0
		for i, value := range record {
			if i == mrnIdx || i == dateIdx {
				continue
			}
			c := t.Cols[ci]
			ci++
			if value == "" {
				continue
			}
			switch c.Kind {
			case Float:
				v, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("table: row %d: bad float %q in column %s: %w", ri+1, value, c.Name, err)
				}
				c.Floats[row] = v
			case Time:
				d, err := parseDate(value)
				if err != nil {
					return nil, fmt.Errorf("table: row %d: bad date %q in column %s: %w", ri+1, value, c.Name, err)
				}
				c.Times[row] = d
			default:
				c.Strings[row] = value
			}
		}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadCSVFile reads a wide table from a CSV file, cf. ReadCSV.
func ReadCSVFile(path, dateCol string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer file.Close()
	t, err := ReadCSV(file, dateCol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// parseDate parses a date string from either source system and normalizes it
// to a UTC civil date.
func parseDate(s string) (time.Time, error) {
	d, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, err
	}
	return utils.Day(d), nil
}

// inferKinds determines the kind of each csv column. A date-like name wins,
// then the first non-empty value decides between float, date, and string.
// The value fallback matters for the demographic diagnosis columns, whose
// names do not spell out that they hold dates.
func inferKinds(header []string, records [][]string, mrnIdx, dateIdx int) []Kind {
	kinds := make([]Kind, len(header))
	for i, name := range header {
		if i == mrnIdx || i == dateIdx {
			continue
		}
		if strings.HasSuffix(name, "_date") || strings.HasPrefix(name, "date_of_") {
			kinds[i] = Time
			continue
		}
		kinds[i] = String
		for _, record := range records {
			if record[i] == "" {
				continue
			}
			if _, err := strconv.ParseFloat(record[i], 64); err == nil {
				kinds[i] = Float
			} else if _, err := parseDate(record[i]); err == nil {
				kinds[i] = Time
			}
			break
		}
	}
	return kinds
}

// WriteCSV writes the table to a CSV stream. Nulls are written as empty
// fields; dates use the ISO day format so that repeated runs are
// byte-identical.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := []string{"mrn"}
	if t.DateName != "" {
		header = append(header, t.DateName)
	}
	header = append(header, t.ColNames()...)
	if err := writer.Write(header); err != nil {
		return pfx.Err(err)
	}
	record := make([]string, len(header))
	for i := 0; i < t.Len(); i++ {
		record = record[:0]
		record = append(record, t.MRNs[i])
		if t.DateName != "" {
			record = append(record, t.Dates[i].Format("2006-01-02"))
		}
		for _, c := range t.Cols {
			record = append(record, formatValue(c, i))
		}
		if err := writer.Write(record); err != nil {
			return pfx.Err(err)
		}
	}
	writer.Flush()
	return pfx.Err(writer.Error())
}

// WriteCSVFile writes the table to a CSV file, cf. WriteCSV.
func (t *Table) WriteCSVFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer file.Close()
	return t.WriteCSV(file)
}

func formatValue(c *Column, i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.Kind {
	case Float:
		if c.Floats[i] == math.Trunc(c.Floats[i]) && math.Abs(c.Floats[i]) < 1e15 {
			return strconv.FormatInt(int64(c.Floats[i]), 10)
		}
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	case Time:
		return c.Times[i].Format("2006-01-02")
	default:
		return c.Strings[i]
	}
}
