// Package ingest turns uploaded CSV files into typed Parquet datasets
// and registers their schema.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	TypeBigint  = "BIGINT"
	TypeDouble  = "DOUBLE"
	TypeBoolean = "BOOLEAN"
	TypeDate    = "DATE"
	TypeVarchar = "VARCHAR"
)

type Column struct {
	Name string
	Type string
}

// Table is a sanitized, typed snapshot of an uploaded CSV. Row values
// are int64, float64, bool or string depending on the column type; nil
// marks a null cell. Date values are canonical ISO-8601 strings.
type Table struct {
	Columns []Column
	Rows    [][]any
}

var (
	nonWordPattern    = regexp.MustCompile(`\W+`)
	underscorePattern = regexp.MustCompile(`_+`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"02.01.2006",
}

// SanitizeCSV reads the whole file, normalizes headers, drops rows with
// no values and infers a column type from the observed cells.
func SanitizeCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Table{}, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]Column, len(header))
	seen := make(map[string]int)
	for i, name := range header {
		clean := sanitizeHeader(name)
		if clean == "" {
			clean = fmt.Sprintf("column_%d", i+1)
		}
		if count := seen[clean]; count > 0 {
			clean = fmt.Sprintf("%s_%d", clean, count+1)
		}
		seen[sanitizeHeader(name)]++
		columns[i] = Column{Name: clean}
	}

	rawRows := make([][]string, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv row: %w", err)
		}
		cells := make([]string, len(columns))
		empty := true
		for i := range columns {
			if i < len(record) {
				cells[i] = strings.TrimSpace(record[i])
			}
			if cells[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		rawRows = append(rawRows, cells)
	}

	for i := range columns {
		columns[i].Type = inferColumnType(rawRows, i)
	}

	rows := make([][]any, len(rawRows))
	for r, raw := range rawRows {
		row := make([]any, len(columns))
		for c := range columns {
			row[c] = coerceCell(raw[c], columns[c].Type)
		}
		rows[r] = row
	}

	return Table{Columns: columns, Rows: rows}, nil
}

func sanitizeHeader(name string) string {
	clean := strings.ToLower(strings.TrimSpace(name))
	clean = nonWordPattern.ReplaceAllString(clean, "_")
	clean = underscorePattern.ReplaceAllString(clean, "_")
	return strings.Trim(clean, "_")
}

// inferColumnType picks the narrowest type every non-empty cell of the
// column fits. Columns with no values stay VARCHAR.
func inferColumnType(rows [][]string, column int) string {
	sawValue := false
	isBigint, isDouble, isBoolean, isDate := true, true, true, true

	for _, row := range rows {
		cell := row[column]
		if cell == "" {
			continue
		}
		sawValue = true

		if isBigint {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isBigint = false
			}
		}
		if isDouble {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isDouble = false
			}
		}
		if isBoolean && !isBooleanCell(cell) {
			isBoolean = false
		}
		if isDate {
			if _, ok := parseDateCell(cell); !ok {
				isDate = false
			}
		}
	}

	if !sawValue {
		return TypeVarchar
	}
	switch {
	case isBigint:
		return TypeBigint
	case isBoolean:
		return TypeBoolean
	case isDouble:
		return TypeDouble
	case isDate:
		return TypeDate
	default:
		return TypeVarchar
	}
}

func coerceCell(cell, columnType string) any {
	if cell == "" {
		return nil
	}
	switch columnType {
	case TypeBigint:
		value, _ := strconv.ParseInt(cell, 10, 64)
		return value
	case TypeDouble:
		value, _ := strconv.ParseFloat(cell, 64)
		return value
	case TypeBoolean:
		return strings.EqualFold(cell, "true") || cell == "1"
	case TypeDate:
		if parsed, ok := parseDateCell(cell); ok {
			return parsed.Format("2006-01-02")
		}
		return cell
	default:
		return cell
	}
}

func isBooleanCell(cell string) bool {
	switch strings.ToLower(cell) {
	case "true", "false", "0", "1":
		return true
	}
	return false
}

func parseDateCell(cell string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, cell); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
