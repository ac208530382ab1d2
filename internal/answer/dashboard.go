package answer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dataomen/dataomen/internal/semantic"
)

// BuildDashboard plans a widget set over the full dataset schema and
// answers every widget question concurrently. A widget that exhausts its
// attempts reports its error inline instead of failing the dashboard.
func (s *Service) BuildDashboard(ctx context.Context, tenantID, datasetID string) (Dashboard, error) {
	dataset, err := s.resolveDataset(ctx, tenantID, datasetID)
	if err != nil {
		return Dashboard{}, err
	}

	columns, err := s.store.ListColumns(ctx, datasetID)
	if err != nil {
		return Dashboard{}, err
	}
	schemaContext := semantic.RenderSchemaContext(columns)
	names := columnNames(columns)

	specs, err := s.planner.PlanDashboard(ctx, schemaContext)
	if err != nil {
		return Dashboard{}, err
	}

	widgets := make([]Widget, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, title, question string) {
			defer wg.Done()
			widget := Widget{Title: title, Question: question}
			result, err := s.answerQuestion(ctx, dataset, schemaContext, names, question)
			if err != nil {
				widget.Error = err.Error()
			} else {
				widget.Answer = &result
			}
			widgets[i] = widget
		}(i, spec.Title, spec.Question)
	}
	wg.Wait()

	failed := 0
	for _, widget := range widgets {
		if widget.Error != "" {
			failed++
		}
	}
	s.logger.Info("dashboard built",
		slog.String("dataset_id", datasetID),
		slog.Int("widgets", len(widgets)),
		slog.Int("failed", failed))

	return Dashboard{DatasetID: datasetID, Widgets: widgets}, nil
}
