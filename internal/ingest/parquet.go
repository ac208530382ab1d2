package ingest

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EncodeParquet writes the table as a single Parquet file. Every column
// is optional so null cells round-trip. Dates are stored as ISO-8601
// strings; DuckDB casts them on read.
func EncodeParquet(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table has no columns")
	}

	group := parquet.Group{}
	for _, column := range table.Columns {
		group[column.Name] = parquet.Optional(leafFor(column.Type))
	}
	schema := parquet.NewSchema("dataset", group)

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)

	rows := make([]map[string]any, len(table.Rows))
	for r, row := range table.Rows {
		record := make(map[string]any, len(table.Columns))
		for c, column := range table.Columns {
			if c < len(row) && row[c] != nil {
				record[column.Name] = row[c]
			}
		}
		rows[r] = record
	}

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func leafFor(columnType string) parquet.Node {
	switch columnType {
	case TypeBigint:
		return parquet.Int(64)
	case TypeDouble:
		return parquet.Leaf(parquet.DoubleType)
	case TypeBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}
