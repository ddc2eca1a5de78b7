// Package billref parses uploaded consumer lists and classifies bill
// reference numbers by utility type.
package billref

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Kind identifies which vendor portal a reference belongs to.
type Kind string

const (
	// Electric references are exactly 14 digits.
	Electric Kind = "electric"

	// Gas consumer numbers are exactly 11 digits.
	Gas Kind = "gas"
)

// Reference is one bill identifier as read from the input file.
// Immutable once parsed.
type Reference struct {
	Number string
	Kind   Kind
}

// referenceColumn is the zero-based column holding the reference number.
// Upload format: header row, then one bill per row, reference in the 3rd field.
const referenceColumn = 2

// Classify strips non-digit characters and maps the digit length to a
// utility type. References of any other length are not valid.
func Classify(raw string) (Reference, bool) {
	number := strings.TrimSpace(raw)
	digits := digitsOnly(number)

	switch len(digits) {
	case 14:
		return Reference{Number: number, Kind: Electric}, true
	case 11:
		return Reference{Number: number, Kind: Gas}, true
	default:
		return Reference{}, false
	}
}

// ParseUpload extracts classified references from an uploaded file.
// CSV is assumed unless the filename carries an xlsx/xls extension.
// Rows with an empty reference field and references with an invalid
// digit length are dropped silently.
func ParseUpload(filename string, data []byte) ([]Reference, error) {
	var (
		raw []string
		err error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		raw, err = parseXLSX(data)
	default:
		raw, err = parseCSV(bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	refs := make([]Reference, 0, len(raw))
	for _, value := range raw {
		if ref, ok := Classify(value); ok {
			refs = append(refs, ref)
		}
	}

	return refs, nil
}

// Split partitions references by utility type, preserving input order.
func Split(refs []Reference) (electric, gas []Reference) {
	for _, ref := range refs {
		switch ref.Kind {
		case Electric:
			electric = append(electric, ref)
		case Gas:
			gas = append(gas, ref)
		}
	}
	return electric, gas
}

// parseCSV reads the reference column from newline-delimited CSV text.
// The header row is skipped.
func parseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	return pickColumn(records), nil
}

// parseXLSX reads the reference column from the first sheet of a workbook.
func parseXLSX(data []byte) ([]string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	return pickColumn(rows), nil
}

func pickColumn(rows [][]string) []string {
	out := make([]string, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			// Header row
			continue
		}
		if len(row) <= referenceColumn {
			continue
		}
		value := strings.TrimSpace(row[referenceColumn])
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
