// Package batch applies the decision adapter to every row of a tabular dataset
// and appends the decision as one new column.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMissingColumn is returned when a dataset lacks a column the domain needs.
	ErrMissingColumn = errors.New("missing column")
	// ErrEmptyInput is returned for input without even a header line.
	ErrEmptyInput = errors.New("input is empty")
)

// Dataset is a header plus rows of string cells, as read from a CSV file.
type Dataset struct {
	Header []string
	Rows   [][]string
}

// ReadCSV reads a dataset whose first record is the header. Every row must
// have as many cells as the header.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read csv: %w", ErrEmptyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	ds := &Dataset{Header: header}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		ds.Rows = append(ds.Rows, rec)
	}
	return ds, nil
}

// WriteCSV writes the header followed by every row.
func WriteCSV(w io.Writer, ds *Dataset) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ds.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.WriteAll(ds.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// Len returns the number of data rows.
func (ds *Dataset) Len() int { return len(ds.Rows) }

// Row returns data row i keyed by column name.
func (ds *Dataset) Row(i int) map[string]string {
	row := make(map[string]string, len(ds.Header))
	for j, name := range ds.Header {
		if j < len(ds.Rows[i]) {
			row[name] = ds.Rows[i][j]
		}
	}
	return row
}

// Require checks that every named column is present in the header.
func (ds *Dataset) Require(columns []string) error {
	have := make(map[string]bool, len(ds.Header))
	for _, h := range ds.Header {
		have[h] = true
	}
	var missing []string
	for _, c := range columns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// withColumn returns a copy of ds with name set to values. An existing column
// of the same name is overwritten in place; otherwise the column is appended.
func (ds *Dataset) withColumn(name string, values []string) *Dataset {
	idx := -1
	for i, h := range ds.Header {
		if h == name {
			idx = i
			break
		}
	}

	header := append([]string(nil), ds.Header...)
	if idx < 0 {
		idx = len(header)
		header = append(header, name)
	}

	rows := make([][]string, len(ds.Rows))
	for i, src := range ds.Rows {
		row := make([]string, len(header))
		copy(row, src)
		row[idx] = values[i]
		rows[i] = row
	}
	return &Dataset{Header: header, Rows: rows}
}
