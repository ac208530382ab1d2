// Package answer orchestrates the question pipeline: resolve the
// dataset, retrieve schema context, compile SQL and execute it, feeding
// failures back into the compiler until an attempt succeeds or the
// ceiling is hit.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dataomen/dataomen/internal/compiler"
	"github.com/dataomen/dataomen/internal/observability"
	"github.com/dataomen/dataomen/internal/query"
	"github.com/dataomen/dataomen/internal/registry"
	"github.com/dataomen/dataomen/internal/semantic"
)

// DatasetStore is the slice of the registry the pipeline reads.
type DatasetStore interface {
	GetDataset(ctx context.Context, tenantID, datasetID string) (registry.Dataset, error)
	ListColumns(ctx context.Context, datasetID string) ([]registry.Column, error)
}

// SchemaRetriever returns the columns most relevant to a question.
type SchemaRetriever interface {
	RetrieveRelevantSchema(ctx context.Context, datasetID, question string) ([]registry.Column, error)
}

// Planner compiles questions and proposes dashboard widgets.
type Planner interface {
	Compile(ctx context.Context, req compiler.Request) (compiler.Plan, error)
	PlanDashboard(ctx context.Context, schemaContext string) ([]compiler.WidgetSpec, error)
}

// ExhaustedError means every compile attempt failed. It is terminal for
// the question; the caller should rephrase rather than retry as-is.
type ExhaustedError struct {
	Attempts  int
	LastError string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("could not produce an executable query after %d attempts, try rephrasing the question (last error: %s)", e.Attempts, e.LastError)
}

type Answer struct {
	Question  string           `json:"question"`
	SQL       string           `json:"sql"`
	Rationale string           `json:"rationale"`
	Display   compiler.Display `json:"display"`
	Columns   []string         `json:"columns"`
	Rows      [][]any          `json:"rows"`
	Attempts  int              `json:"attempts"`
}

type Widget struct {
	Title    string  `json:"title"`
	Question string  `json:"question"`
	Answer   *Answer `json:"answer,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type Dashboard struct {
	DatasetID string   `json:"dataset_id"`
	Widgets   []Widget `json:"widgets"`
}

type Service struct {
	store       DatasetStore
	retriever   SchemaRetriever
	planner     Planner
	engine      query.Engine
	maxAttempts int
	rowLimit    int
	logger      *slog.Logger
}

func NewService(store DatasetStore, retriever SchemaRetriever, planner Planner, engine query.Engine, maxAttempts, rowLimit int, logger *slog.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		store:       store,
		retriever:   retriever,
		planner:     planner,
		engine:      engine,
		maxAttempts: maxAttempts,
		rowLimit:    rowLimit,
		logger:      logger.With(slog.String("component", "answer")),
	}
}

// Ask answers one ad hoc question against a ready dataset. Registry and
// retrieval failures short-circuit before any compile attempt is spent.
func (s *Service) Ask(ctx context.Context, tenantID, datasetID, question string) (Answer, error) {
	dataset, err := s.resolveDataset(ctx, tenantID, datasetID)
	if err != nil {
		return Answer{}, err
	}

	columns, err := s.retriever.RetrieveRelevantSchema(ctx, datasetID, question)
	if err != nil {
		return Answer{}, err
	}

	return s.answerQuestion(ctx, dataset, semantic.RenderSchemaContext(columns), columnNames(columns), question)
}

func columnNames(columns []registry.Column) []string {
	names := make([]string, len(columns))
	for i, column := range columns {
		names[i] = column.Name
	}
	return names
}

func (s *Service) resolveDataset(ctx context.Context, tenantID, datasetID string) (registry.Dataset, error) {
	dataset, err := s.store.GetDataset(ctx, tenantID, datasetID)
	if err != nil {
		return registry.Dataset{}, err
	}
	if dataset.Status != registry.StatusReady {
		return registry.Dataset{}, registry.ErrNotReady
	}
	return dataset, nil
}

func (s *Service) answerQuestion(ctx context.Context, dataset registry.Dataset, schemaContext string, columns []string, question string) (Answer, error) {
	file := query.DatasetFile{
		TenantID:   dataset.TenantID,
		DatasetID:  dataset.DatasetID,
		ObjectPath: dataset.ObjectPath,
	}

	var feedback []compiler.Feedback
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		plan, err := s.planner.Compile(ctx, compiler.Request{
			Question:      question,
			SchemaContext: schemaContext,
			Columns:       columns,
			Feedback:      feedback,
		})
		if err != nil {
			var vErr *compiler.ValidationError
			if !errors.As(err, &vErr) {
				return Answer{}, err
			}
			observability.ObserveCompileAttempt("invalid_plan")
			s.logger.Warn("compile attempt produced invalid plan",
				slog.String("dataset_id", dataset.DatasetID),
				slog.Int("attempt", attempt),
				slog.String("error", vErr.Error()))
			feedback = append(feedback, compiler.Feedback{Error: vErr.Error()})
			lastErr = vErr
			continue
		}

		result, err := s.engine.Execute(ctx, query.Request{
			SQL:      plan.SQL,
			RowLimit: s.rowLimit,
			File:     file,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Answer{}, err
			}
			observability.ObserveCompileAttempt("execution_error")
			s.logger.Warn("compiled query failed to execute",
				slog.String("dataset_id", dataset.DatasetID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			feedback = append(feedback, compiler.Feedback{SQL: plan.SQL, Error: err.Error()})
			lastErr = err
			continue
		}

		observability.ObserveCompileAttempt("success")
		return Answer{
			Question:  question,
			SQL:       plan.SQL,
			Rationale: plan.Rationale,
			Display:   plan.Display,
			Columns:   result.Columns,
			Rows:      result.Rows,
			Attempts:  attempt,
		}, nil
	}

	observability.IncrementQuestionExhausted()
	lastMessage := "no attempt produced a plan"
	if lastErr != nil {
		lastMessage = lastErr.Error()
	}
	return Answer{}, &ExhaustedError{Attempts: s.maxAttempts, LastError: lastMessage}
}
