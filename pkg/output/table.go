// Package output renders human-readable tables for command output.
package output

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableData represents structured table data
type TableData struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a new TableData with the given headers
func NewTable(headers ...string) *TableData {
	return &TableData{Headers: headers}
}

// AddRow adds a row to the table
func (t *TableData) AddRow(cols ...string) *TableData {
	t.Rows = append(t.Rows, cols)
	return t
}

// Render writes the table to w. Empty tables render nothing.
func (t *TableData) Render(w io.Writer) error {
	if len(t.Rows) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	headers := make([]any, len(t.Headers))
	for i, header := range t.Headers {
		headers[i] = header
	}
	table.Header(headers...)

	for _, row := range t.Rows {
		cols := make([]any, len(row))
		for i, col := range row {
			cols[i] = col
		}
		if err := table.Append(cols...); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
