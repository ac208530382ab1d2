package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dataomen/dataomen/internal/llm"
)

const maxDashboardWidgets = 4

// WidgetSpec is one proposed dashboard widget: a question the answer
// pipeline compiles and executes like any ad hoc question.
type WidgetSpec struct {
	Title    string `json:"title"`
	Question string `json:"question"`
}

// PlanDashboard asks the model for a set of widget questions grounded in
// the schema context. Widgets beyond the cap are dropped.
func (c *Compiler) PlanDashboard(ctx context.Context, schemaContext string) ([]WidgetSpec, error) {
	raw, err := c.completer.Complete(ctx, llm.CompletionRequest{
		System:      dashboardSystemPrompt,
		User:        buildDashboardPrompt(schemaContext),
		Temperature: 0,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan dashboard: %w", err)
	}

	var parsed struct {
		Widgets []WidgetSpec `json:"widgets"`
	}
	if err := json.Unmarshal([]byte(stripMarkdownFence(raw)), &parsed); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("dashboard response is not valid JSON: %v", err)}
	}

	widgets := make([]WidgetSpec, 0, len(parsed.Widgets))
	for _, widget := range parsed.Widgets {
		if strings.TrimSpace(widget.Question) == "" {
			continue
		}
		if widget.Title == "" {
			widget.Title = widget.Question
		}
		widgets = append(widgets, widget)
		if len(widgets) == maxDashboardWidgets {
			break
		}
	}
	if len(widgets) == 0 {
		return nil, &ValidationError{Reason: "dashboard response contains no usable widgets"}
	}
	return widgets, nil
}
