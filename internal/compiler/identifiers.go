package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dataomen/dataomen/internal/query"
)

var (
	singleQuotedPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
	identifierPattern   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// sqlVocabulary lists the keywords, type names and date parts an
// identifier scan must not mistake for column references. Function
// names need no entry: a word followed by "(" is treated as a call.
var sqlVocabulary = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "GROUP": {}, "BY": {}, "ORDER": {},
	"LIMIT": {}, "OFFSET": {}, "AS": {}, "ON": {}, "AND": {}, "OR": {},
	"NOT": {}, "NULL": {}, "IS": {}, "IN": {}, "LIKE": {}, "ILIKE": {},
	"BETWEEN": {}, "CASE": {}, "WHEN": {}, "THEN": {}, "ELSE": {}, "END": {},
	"JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {}, "OUTER": {},
	"CROSS": {}, "USING": {}, "DISTINCT": {}, "HAVING": {}, "UNION": {},
	"INTERSECT": {}, "EXCEPT": {}, "ALL": {}, "ANY": {}, "SOME": {},
	"EXISTS": {}, "ASC": {}, "DESC": {}, "NULLS": {}, "FIRST": {}, "LAST": {},
	"WITH": {}, "RECURSIVE": {}, "INTERVAL": {}, "DATE": {}, "TIME": {},
	"TIMESTAMP": {}, "VARCHAR": {}, "TEXT": {}, "INTEGER": {}, "INT": {},
	"BIGINT": {}, "SMALLINT": {}, "DOUBLE": {}, "FLOAT": {}, "REAL": {},
	"DECIMAL": {}, "NUMERIC": {}, "BOOLEAN": {}, "TRUE": {}, "FALSE": {},
	"FILTER": {}, "OVER": {}, "PARTITION": {}, "ROWS": {}, "RANGE": {},
	"PRECEDING": {}, "FOLLOWING": {}, "UNBOUNDED": {}, "CURRENT": {},
	"ROW": {}, "ESCAPE": {}, "COLLATE": {}, "YEAR": {}, "MONTH": {},
	"DAY": {}, "WEEK": {}, "QUARTER": {}, "HOUR": {}, "MINUTE": {},
	"SECOND": {}, "MILLISECOND": {}, "MICROSECOND": {}, "DOW": {},
	"DOY": {}, "EPOCH": {},
}

// validateColumnReferences rejects SQL naming an identifier outside the
// schema context the model was shown. The scan is lexical: string
// literals are stripped, double quotes are dropped so quoted
// identifiers scan as bare words, words followed by "(" count as
// function calls, and names introduced by AS (aliases and CTEs) are
// allowed where they are later referenced. An empty column list
// disables the check.
func validateColumnReferences(sqlText string, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(columns)+1)
	allowed[strings.ToLower(query.VirtualTable)] = struct{}{}
	for _, column := range columns {
		allowed[strings.ToLower(column)] = struct{}{}
	}

	stripped := singleQuotedPattern.ReplaceAllString(sqlText, "''")
	stripped = strings.ReplaceAll(stripped, `"`, " ")

	locations := identifierPattern.FindAllStringIndex(stripped, -1)
	words := make([]string, len(locations))
	for i, loc := range locations {
		words[i] = stripped[loc[0]:loc[1]]
	}

	defined := map[string]struct{}{}
	for i, word := range words {
		if !strings.EqualFold(word, "AS") {
			continue
		}
		if isFunctionCall(stripped, locations[i][1]) {
			// "name AS (" introduces a CTE.
			if i > 0 {
				defined[strings.ToLower(words[i-1])] = struct{}{}
			}
		} else if i+1 < len(words) {
			defined[strings.ToLower(words[i+1])] = struct{}{}
		}
	}

	for i, word := range words {
		upper := strings.ToUpper(word)
		if _, ok := sqlVocabulary[upper]; ok {
			continue
		}
		if isFunctionCall(stripped, locations[i][1]) {
			continue
		}
		lower := strings.ToLower(word)
		if _, ok := defined[lower]; ok {
			continue
		}
		if _, ok := allowed[lower]; ok {
			continue
		}
		return &ValidationError{Reason: fmt.Sprintf("column %q is not in the schema context", word)}
	}
	return nil
}

func isFunctionCall(sqlText string, end int) bool {
	for _, r := range sqlText[end:] {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '(':
			return true
		default:
			return false
		}
	}
	return false
}
