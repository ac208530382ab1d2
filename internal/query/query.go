// Package query defines the read-only execution contract over a single
// tenant-owned Parquet dataset.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// VirtualTable is the only table name generated SQL may reference. The
// engine binds it to the dataset's Parquet file at execution time.
const VirtualTable = "dataset"

// DatasetFile locates one tenant's processed Parquet file in the object
// store. TenantID is checked against the object path before any byte is
// downloaded.
type DatasetFile struct {
	TenantID      string
	DatasetID     string
	ObjectPath    string
	FileSizeBytes int64
}

type Request struct {
	SQL      string
	RowLimit int
	File     DatasetFile
}

type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedBytes int64
	Duration     time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ReadOnlyError reports SQL that is not a single read-only statement.
// Its message is safe to feed back into a compiler prompt verbatim.
type ReadOnlyError struct {
	Reason string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("sql rejected: %s", e.Reason)
}

var (
	quotedLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
	wordPattern          = regexp.MustCompile(`[A-Za-z_]+`)

	deniedKeywords = map[string]struct{}{
		"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {},
		"DROP": {}, "ALTER": {}, "CREATE": {}, "TRUNCATE": {},
		"ATTACH": {}, "DETACH": {}, "COPY": {}, "EXPORT": {}, "IMPORT": {},
		"INSTALL": {}, "LOAD": {}, "CALL": {}, "PRAGMA": {}, "SET": {},
		"GRANT": {}, "REVOKE": {}, "VACUUM": {},
	}
)

// ValidateReadOnly enforces the statement shape every generated query
// must satisfy: exactly one statement, starting with SELECT or WITH,
// with no write or catalog keyword anywhere outside string literals.
func ValidateReadOnly(sqlText string) error {
	trimmed := StripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return &ReadOnlyError{Reason: "statement is empty"}
	}
	if strings.Contains(trimmed, ";") {
		return &ReadOnlyError{Reason: "only a single statement is allowed"}
	}

	stripped := quotedLiteralPattern.ReplaceAllString(trimmed, "''")
	words := wordPattern.FindAllString(stripped, -1)
	if len(words) == 0 {
		return &ReadOnlyError{Reason: "statement is empty"}
	}

	first := strings.ToUpper(words[0])
	if first != "SELECT" && first != "WITH" {
		return &ReadOnlyError{Reason: fmt.Sprintf("statement must start with SELECT or WITH, got %s", first)}
	}
	for _, word := range words {
		if _, denied := deniedKeywords[strings.ToUpper(word)]; denied {
			return &ReadOnlyError{Reason: fmt.Sprintf("keyword %s is not allowed in a read-only query", strings.ToUpper(word))}
		}
	}
	return nil
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
