// Package table merges shaped rows into the column/row structure returned to
// dashboard clients.
package table

import (
	"github.com/kartikbazzad/bunbase/bunquery/internal/shape"
)

// ColumnTypeText is the only column type emitted; cells keep their native JSON type.
const ColumnTypeText = "text"

// Column describes one table column.
type Column struct {
	Name string `json:"text"`
	Type string `json:"type"`
}

// Table is the normalized result of one target.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Type    string   `json:"type"`
}

// Merge combines the row lists of one target's commands, given in command
// order, into a single table. Columns are the union of the fields seen in the
// first row of each non-empty list, ordered by shape.CanonicalFields; fields
// outside that list are dropped. Missing cells are nil.
func Merge(lists [][]shape.Row) Table {
	seen := make(map[shape.Field]bool, len(shape.CanonicalFields))
	total := 0
	for _, rows := range lists {
		total += len(rows)
		if len(rows) == 0 {
			continue
		}
		for f := range rows[0] {
			seen[f] = true
		}
	}

	fields := make([]shape.Field, 0, len(seen))
	for _, f := range shape.CanonicalFields {
		if seen[f] {
			fields = append(fields, f)
		}
	}

	t := Table{
		Columns: make([]Column, len(fields)),
		Rows:    make([][]any, 0, total),
		Type:    "table",
	}
	for i, f := range fields {
		t.Columns[i] = Column{Name: string(f), Type: ColumnTypeText}
	}
	for _, rows := range lists {
		for _, row := range rows {
			values := make([]any, len(fields))
			for i, f := range fields {
				values[i] = row[f]
			}
			t.Rows = append(t.Rows, values)
		}
	}
	return t
}

// ColumnNames returns the column names in order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
