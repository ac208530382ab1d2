// Package compiler turns a natural-language question plus retrieved
// schema context into a validated read-only SQL plan.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dataomen/dataomen/internal/llm"
	"github.com/dataomen/dataomen/internal/query"
)

// Completer is the chat-completion surface the compiler needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// DisplayTypes enumerates the renderings a plan may ask the client for.
var DisplayTypes = map[string]struct{}{
	"bar_chart":    {},
	"line_chart":   {},
	"pie_chart":    {},
	"single_value": {},
	"table":        {},
}

type Display struct {
	Type  string `json:"type"`
	XAxis string `json:"x_axis,omitempty"`
	YAxis string `json:"y_axis,omitempty"`
}

// Plan is one compiled attempt: the SQL to run, the model's reasoning
// and how the result should be displayed.
type Plan struct {
	SQL       string  `json:"sql"`
	Rationale string  `json:"rationale"`
	Display   Display `json:"display"`
}

// Feedback carries one failed attempt back into the next prompt. Error
// holds the literal engine or validation message.
type Feedback struct {
	SQL   string
	Error string
}

type Request struct {
	Question      string
	SchemaContext string
	// Columns are the column names the schema context exposed to the
	// model. A plan referencing any other identifier is rejected before
	// it reaches the engine.
	Columns  []string
	Feedback []Feedback
}

// ValidationError reports a plan that violates the output contract. It
// is retryable: the message becomes feedback for the next attempt.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}

type Compiler struct {
	completer Completer
}

func New(completer Completer) *Compiler {
	return &Compiler{completer: completer}
}

// Compile asks the model for a plan and validates it. Generation runs at
// temperature zero so retries differ only through added feedback.
func (c *Compiler) Compile(ctx context.Context, req Request) (Plan, error) {
	raw, err := c.completer.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		User:        buildUserPrompt(req),
		Temperature: 0,
		ForceJSON:   true,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("compile question: %w", err)
	}

	plan, err := parsePlan(raw)
	if err != nil {
		return Plan{}, err
	}
	if err := validatePlan(plan, req.Columns); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func parsePlan(raw string) (Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(stripMarkdownFence(raw)), &plan); err != nil {
		return Plan{}, &ValidationError{Reason: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	return plan, nil
}

func validatePlan(plan Plan, columns []string) error {
	if strings.TrimSpace(plan.SQL) == "" {
		return &ValidationError{Reason: "sql field is empty"}
	}
	if err := query.ValidateReadOnly(plan.SQL); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := validateColumnReferences(plan.SQL, columns); err != nil {
		return err
	}
	if _, ok := DisplayTypes[plan.Display.Type]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("display type %q is not supported", plan.Display.Type)}
	}
	switch plan.Display.Type {
	case "bar_chart", "line_chart", "pie_chart":
		if plan.Display.XAxis == "" || plan.Display.YAxis == "" {
			return &ValidationError{Reason: fmt.Sprintf("display type %q requires x_axis and y_axis", plan.Display.Type)}
		}
		lowerSQL := strings.ToLower(plan.SQL)
		for _, axis := range []string{plan.Display.XAxis, plan.Display.YAxis} {
			if !strings.Contains(lowerSQL, strings.ToLower(axis)) {
				return &ValidationError{Reason: fmt.Sprintf("axis %q does not appear in the query output", axis)}
			}
		}
	}
	return nil
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
