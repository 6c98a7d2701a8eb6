package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/datalens-labs/datalens/pkg/schema"
)

// ErrMalformed marks file content that could not be decoded into rows.
var ErrMalformed = errors.New("unable to parse file")

// Parse decodes a CSV or XLSX file into headers and rows. Headers are
// trimmed; columns with empty header names are dropped; rows whose every
// cell is empty are skipped; empty cells become nil. Zero rows or zero
// headers is not an error.
func Parse(filename string, r io.Reader) ([]string, []schema.Row, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return parseXLSX(filename, r)
	default:
		return parseCSV(filename, r)
	}
}

func parseCSV(filename string, r io.Reader) ([]string, []schema.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filename, err)
	}
	return headerRow(records), rowsFromTable(records), nil
}

func parseXLSX(filename string, r io.Reader) ([]string, []schema.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filename, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, nil
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, filename, err)
	}
	return headerRow(records), rowsFromTable(records), nil
}

// headerRow extracts the trimmed header row.
func headerRow(records [][]string) []string {
	if len(records) == 0 {
		return nil
	}
	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}
	return headers
}

// rowsFromTable maps data records onto the header row, skipping rows with no
// content at all.
func rowsFromTable(records [][]string) []schema.Row {
	if len(records) < 2 {
		return nil
	}
	headers := headerRow(records)

	var rows []schema.Row
	for _, record := range records[1:] {
		row := make(schema.Row, len(headers))
		empty := true
		for i, h := range headers {
			if h == "" {
				continue
			}
			var v any
			if i < len(record) && record[i] != "" {
				v = record[i]
				empty = false
			}
			row[h] = v
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
