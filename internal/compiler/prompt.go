package compiler

import (
	"fmt"
	"strings"
)

const systemPrompt = `You convert natural language analytics questions into a single DuckDB SQL query.
DuckDB uses PostgreSQL-like SQL syntax.

Rules:
- Query only the table named "dataset". It is the only table that exists.
- Use only the columns listed in the schema context. Never invent columns.
- The query must be a single read-only SELECT or WITH statement. Never write, create, drop or alter anything.
- Respond with a single JSON object and nothing else, in this exact shape:
  {"sql": "...", "rationale": "...", "display": {"type": "...", "x_axis": "...", "y_axis": "..."}}
- "rationale" is a short explanation of how the query answers the question.
- "display.type" must be one of: bar_chart, line_chart, pie_chart, single_value, table.
- For bar_chart, line_chart and pie_chart, "x_axis" and "y_axis" must name output columns of the query.
- For single_value and table, omit the axes.`

const dashboardSystemPrompt = `You design a small analytics dashboard for a tabular dataset.
Given the schema context, propose at most four widgets that together summarise the dataset.

Rules:
- Each widget is one natural language question answerable from the listed columns alone.
- Prefer a mix of trends, breakdowns and headline totals.
- Respond with a single JSON object and nothing else, in this exact shape:
  {"widgets": [{"title": "...", "question": "..."}]}`

func buildUserPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Schema context:\n")
	sb.WriteString(req.SchemaContext)
	sb.WriteString("\nQuestion:\n")
	sb.WriteString(strings.TrimSpace(req.Question))
	sb.WriteByte('\n')

	for i, feedback := range req.Feedback {
		sb.WriteString(fmt.Sprintf("\nPrevious attempt %d failed.\nSQL:\n%s\nError:\n%s\n", i+1, feedback.SQL, feedback.Error))
	}
	if len(req.Feedback) > 0 {
		sb.WriteString("\nWrite a corrected query that avoids the errors above.\n")
	}
	return sb.String()
}

func buildDashboardPrompt(schemaContext string) string {
	var sb strings.Builder
	sb.WriteString("Schema context:\n")
	sb.WriteString(schemaContext)
	sb.WriteString("\nPropose the dashboard widgets.\n")
	return sb.String()
}
