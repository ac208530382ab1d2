// Package narrative produces short executive summaries of query results
// and anomaly alerts. Summaries are best-effort: a provider failure
// degrades to a static fallback instead of failing the request.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dataomen/dataomen/internal/anomaly"
	"github.com/dataomen/dataomen/internal/llm"
)

// maxRows bounds how much of a result set is shown to the model.
const maxRows = 50

const resultFallback = "A narrative summary is unavailable right now. Refer to the result table below."

const systemPrompt = `You are a CFO summarising an analytics result for the leadership team.
Write exactly three sentences of plain business language.
Lead with the headline number or trend, then the most important driver, then what deserves attention next.
No markdown, no bullet points, no hedging about data quality.`

const alertSystemPrompt = `You are a CFO alerting the leadership team about an unusual movement in a monitored metric.
Write exactly three sentences of plain business language.
State what moved and by how much, how that compares to the expected level, and what should be checked first.
No markdown, no bullet points.`

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

type Generator struct {
	completer Completer
	logger    *slog.Logger
}

func NewGenerator(completer Completer, logger *slog.Logger) *Generator {
	return &Generator{
		completer: completer,
		logger:    logger.With(slog.String("component", "narrative")),
	}
}

// SummarizeResult narrates a query result. Rows beyond the cap are
// dropped from the prompt, with the full count mentioned instead.
func (g *Generator) SummarizeResult(ctx context.Context, question string, columns []string, rows [][]any) string {
	shown := rows
	truncated := false
	if len(shown) > maxRows {
		shown = shown[:maxRows]
		truncated = true
	}

	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nResult columns: ")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString("\nResult rows:\n")
	sb.WriteString(renderRows(shown))
	if truncated {
		fmt.Fprintf(&sb, "\nShowing the first %d of %d rows.\n", maxRows, len(rows))
	}

	summary, err := g.completer.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		User:        sb.String(),
		Temperature: 0.3,
	})
	if err != nil {
		g.logger.Warn("result narrative failed, using fallback", slog.String("error", err.Error()))
		return resultFallback
	}
	return strings.TrimSpace(summary)
}

// SummarizeAnomaly narrates a breached metric for an alert. The fallback
// is a plain rendering of the numbers so alerts stay actionable when the
// provider is down.
func (g *Generator) SummarizeAnomaly(ctx context.Context, datasetName, metricColumn string, record anomaly.Record) string {
	fallback := fmt.Sprintf(
		"%s in dataset %s was %.2f on %s against an expected %.2f, a deviation of %.0f%%.",
		metricColumn, datasetName, record.Actual,
		record.Timestamp.Format("2006-01-02"), record.Expected, record.Deviation*100,
	)

	user := fmt.Sprintf(
		"Dataset: %s\nMetric: %s\nDate: %s\nActual value: %.4f\nExpected value: %.4f\nDeviation: %.2f%%\n",
		datasetName, metricColumn, record.Timestamp.Format("2006-01-02"),
		record.Actual, record.Expected, record.Deviation*100,
	)

	summary, err := g.completer.Complete(ctx, llm.CompletionRequest{
		System:      alertSystemPrompt,
		User:        user,
		Temperature: 0.3,
	})
	if err != nil {
		g.logger.Warn("anomaly narrative failed, using fallback", slog.String("error", err.Error()))
		return fallback
	}
	return strings.TrimSpace(summary)
}

func renderRows(rows [][]any) string {
	var sb strings.Builder
	for _, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			continue
		}
		sb.Write(encoded)
		sb.WriteByte('\n')
	}
	return sb.String()
}
