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
	"fmt"
	"math"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"clindat/table"
)

// Output formats accepted by WriteOutput.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// WriteOutput writes the dataset to path in the given format.
func WriteOutput(df *table.Table, path, format, tableName string) error {
	switch format {
	case FormatCSV:
		return df.WriteCSVFile(path)
	case FormatSQLite:
		return writeSQLite(df, path, tableName)
	default:
		return fmt.Errorf("app: unknown output format %q", format)
	}
}

// writeSQLite writes the dataset as a table in a SQLite database, replacing
// the table if it already exists. Dates are stored as ISO strings, nulls as
// SQL NULL.
func writeSQLite(df *table.Table, path, tableName string) error {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return pfx.Err(err)
	}
	defer db.Close()

	names := columnHeader(df)
	ddl := make([]string, 0, len(names))
	for _, name := range names {
		ddl = append(ddl, fmt.Sprintf("%s %s", quoteIdent(name), sqliteType(df, name)))
	}
	if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(tableName))); err != nil {
		return pfx.Err(err)
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(tableName), strings.Join(ddl, ", "))
	if _, err := db.Exec(create); err != nil {
		return pfx.Err(err)
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))

	tx, err := db.Beginx()
	if err != nil {
		return pfx.Err(err)
	}
	stmt, err := tx.Preparex(insert)
	if err != nil {
		tx.Rollback()
		return pfx.Err(err)
	}
	for i := 0; i < df.Len(); i++ {
		if _, err := stmt.Exec(rowValues(df, names, i)...); err != nil {
			tx.Rollback()
			return pfx.Err(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pfx.Err(err)
	}
	Log.WithFields(map[string]interface{}{
		"path": path, "table": tableName, "rows": df.Len(),
	}).Info("wrote sqlite output")
	return nil
}

// columnHeader lists the output column names in order, the key columns first.
func columnHeader(df *table.Table) []string {
	names := []string{"mrn"}
	if df.DateName != "" {
		names = append(names, df.DateName)
	}
	return append(names, df.ColNames()...)
}

func sqliteType(df *table.Table, name string) string {
	c := df.Col(name)
	if c != nil && c.Kind == table.Float {
		return "REAL"
	}
	return "TEXT"
}

func rowValues(df *table.Table, names []string, i int) []interface{} {
	vals := make([]interface{}, 0, len(names))
	for _, name := range names {
		switch {
		case name == "mrn":
			vals = append(vals, df.MRNs[i])
		case name == df.DateName:
			vals = append(vals, df.Dates[i].Format("2006-01-02"))
		default:
			c := df.Col(name)
			switch c.Kind {
			case table.Float:
				if math.IsNaN(c.Floats[i]) {
					vals = append(vals, nil)
				} else {
					vals = append(vals, c.Floats[i])
				}
			case table.String:
				if c.Strings[i] == "" {
					vals = append(vals, nil)
				} else {
					vals = append(vals, c.Strings[i])
				}
			default:
				if c.Times[i].IsZero() {
					vals = append(vals, nil)
				} else {
					vals = append(vals, c.Times[i].Format("2006-01-02"))
				}
			}
		}
	}
	return vals
}

// quoteIdent quotes a SQL identifier. Column names come from CSV headers and
// may contain characters like % that are not bare identifier safe.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
