package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dataomen/dataomen/internal/compiler"
	"github.com/dataomen/dataomen/internal/query"
	"github.com/dataomen/dataomen/internal/registry"
)

type fakeStore struct {
	dataset registry.Dataset
	err     error
	columns []registry.Column
}

func (f *fakeStore) GetDataset(_ context.Context, tenantID, datasetID string) (registry.Dataset, error) {
	if f.err != nil {
		return registry.Dataset{}, f.err
	}
	return f.dataset, nil
}

func (f *fakeStore) ListColumns(context.Context, string) ([]registry.Column, error) {
	return f.columns, nil
}

type fakeRetriever struct {
	columns []registry.Column
	err     error
}

func (f *fakeRetriever) RetrieveRelevantSchema(context.Context, string, string) ([]registry.Column, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.columns, nil
}

type fakePlanner struct {
	mu       sync.Mutex
	requests []compiler.Request
	compile  func(req compiler.Request) (compiler.Plan, error)
	widgets  []compiler.WidgetSpec
}

func (f *fakePlanner) Compile(_ context.Context, req compiler.Request) (compiler.Plan, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.compile(req)
}

func (f *fakePlanner) PlanDashboard(context.Context, string) ([]compiler.WidgetSpec, error) {
	return f.widgets, nil
}

func (f *fakePlanner) recorded() []compiler.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]compiler.Request(nil), f.requests...)
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	execute func(req query.Request) (query.Result, error)
}

func (f *fakeEngine) Execute(_ context.Context, req query.Request) (query.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.execute(req)
}

func readyDataset() registry.Dataset {
	return registry.Dataset{
		DatasetID:  "dataset-1",
		TenantID:   "tenant-1",
		Name:       "orders",
		ObjectPath: "tenant-1/dataset-1/data.parquet",
		Status:     registry.StatusReady,
	}
}

func tablePlan(sql string) compiler.Plan {
	return compiler.Plan{SQL: sql, Rationale: "r", Display: compiler.Display{Type: "table"}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(store DatasetStore, retriever SchemaRetriever, planner Planner, engine query.Engine) *Service {
	return NewService(store, retriever, planner, engine, 3, 1000, testLogger())
}

func TestAskSucceedsOnFirstAttempt(t *testing.T) {
	planner := &fakePlanner{compile: func(compiler.Request) (compiler.Plan, error) {
		return tablePlan("SELECT COUNT(*) AS n FROM dataset"), nil
	}}
	engine := &fakeEngine{execute: func(query.Request) (query.Result, error) {
		return query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(42)}}}, nil
	}}
	svc := newTestService(&fakeStore{dataset: readyDataset()}, &fakeRetriever{}, planner, engine)

	answer, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "how many rows")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Attempts != 1 {
		t.Fatalf("Attempts = %d", answer.Attempts)
	}
	if answer.Rows[0][0] != int64(42) {
		t.Fatalf("Rows = %#v", answer.Rows)
	}
}

func TestAskFeedsExecutionErrorIntoNextAttempt(t *testing.T) {
	engineErr := errors.New(`Binder Error: Referenced column "revenu" not found`)
	planner := &fakePlanner{compile: func(req compiler.Request) (compiler.Plan, error) {
		if len(req.Feedback) == 0 {
			return tablePlan("SELECT revenu FROM dataset"), nil
		}
		return tablePlan("SELECT revenue FROM dataset"), nil
	}}
	engine := &fakeEngine{execute: func(req query.Request) (query.Result, error) {
		if strings.Contains(req.SQL, "revenu ") || strings.HasSuffix(req.SQL, "revenu FROM dataset") {
			return query.Result{}, engineErr
		}
		return query.Result{Columns: []string{"revenue"}}, nil
	}}
	svc := newTestService(&fakeStore{dataset: readyDataset()}, &fakeRetriever{}, planner, engine)

	answer, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "revenue")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", answer.Attempts)
	}

	requests := planner.recorded()
	if len(requests) != 2 {
		t.Fatalf("compile calls = %d", len(requests))
	}
	second := requests[1]
	if len(second.Feedback) != 1 {
		t.Fatalf("Feedback = %#v", second.Feedback)
	}
	if second.Feedback[0].Error != engineErr.Error() {
		t.Fatalf("Feedback.Error = %q, want literal engine error", second.Feedback[0].Error)
	}
	if second.Feedback[0].SQL != "SELECT revenu FROM dataset" {
		t.Fatalf("Feedback.SQL = %q", second.Feedback[0].SQL)
	}
}

func TestAskStopsAtAttemptCeiling(t *testing.T) {
	planner := &fakePlanner{compile: func(compiler.Request) (compiler.Plan, error) {
		return tablePlan("SELECT broken FROM dataset"), nil
	}}
	engine := &fakeEngine{execute: func(query.Request) (query.Result, error) {
		return query.Result{}, errors.New("Binder Error: broken")
	}}
	svc := newTestService(&fakeStore{dataset: readyDataset()}, &fakeRetriever{}, planner, engine)

	_, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "anything")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("Attempts = %d", exhausted.Attempts)
	}
	if got := len(planner.recorded()); got != 3 {
		t.Fatalf("compile calls = %d, want exactly 3", got)
	}
	if !strings.Contains(err.Error(), "rephrasing") {
		t.Fatalf("error = %q, want rephrasing hint", err.Error())
	}
}

func TestAskShortCircuitsOnAccessFailure(t *testing.T) {
	planner := &fakePlanner{compile: func(compiler.Request) (compiler.Plan, error) {
		t.Fatal("compile must not be called")
		return compiler.Plan{}, nil
	}}
	engine := &fakeEngine{execute: func(query.Request) (query.Result, error) {
		return query.Result{}, nil
	}}

	svc := newTestService(&fakeStore{err: registry.ErrNotFound}, &fakeRetriever{}, planner, engine)
	if _, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "q"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, registry.ErrNotFound)
	}

	pending := readyDataset()
	pending.Status = registry.StatusPending
	svc = newTestService(&fakeStore{dataset: pending}, &fakeRetriever{}, planner, engine)
	if _, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "q"); !errors.Is(err, registry.ErrNotReady) {
		t.Fatalf("error = %v, want %v", err, registry.ErrNotReady)
	}
}

func TestAskAbortsOnProviderFailure(t *testing.T) {
	providerErr := errors.New("provider unavailable")
	planner := &fakePlanner{compile: func(compiler.Request) (compiler.Plan, error) {
		return compiler.Plan{}, providerErr
	}}
	engine := &fakeEngine{execute: func(query.Request) (query.Result, error) {
		return query.Result{}, nil
	}}
	svc := newTestService(&fakeStore{dataset: readyDataset()}, &fakeRetriever{}, planner, engine)

	_, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "q")
	if !errors.Is(err, providerErr) {
		t.Fatalf("error = %v, want provider error without retries", err)
	}
	if got := len(planner.recorded()); got != 1 {
		t.Fatalf("compile calls = %d, want 1", got)
	}
}

func TestAskRetriesInvalidPlans(t *testing.T) {
	planner := &fakePlanner{compile: func(req compiler.Request) (compiler.Plan, error) {
		if len(req.Feedback) == 0 {
			return compiler.Plan{}, &compiler.ValidationError{Reason: "sql field is empty"}
		}
		return tablePlan("SELECT 1"), nil
	}}
	engine := &fakeEngine{execute: func(query.Request) (query.Result, error) {
		return query.Result{Columns: []string{"1"}}, nil
	}}
	svc := newTestService(&fakeStore{dataset: readyDataset()}, &fakeRetriever{}, planner, engine)

	answer, err := svc.Ask(context.Background(), "tenant-1", "dataset-1", "q")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Attempts != 2 {
		t.Fatalf("Attempts = %d", answer.Attempts)
	}
	second := planner.recorded()[1]
	if !strings.Contains(second.Feedback[0].Error, "sql field is empty") {
		t.Fatalf("Feedback = %#v", second.Feedback)
	}
}

func TestBuildDashboardReportsPartialFailuresInline(t *testing.T) {
	planner := &fakePlanner{
		widgets: []compiler.WidgetSpec{
			{Title: "Trend", Question: "revenue per day"},
			{Title: "Broken", Question: "impossible question"},
			{Title: "Regions", Question: "orders by region"},
			{Title: "Total", Question: "total revenue"},
		},
		compile: func(req compiler.Request) (compiler.Plan, error) {
			if req.Question == "impossible question" {
				return tablePlan("SELECT nonsense FROM dataset"), nil
			}
			return tablePlan("SELECT 1"), nil
		},
	}
	engine := &fakeEngine{execute: func(req query.Request) (query.Result, error) {
		if strings.Contains(req.SQL, "nonsense") {
			return query.Result{}, errors.New("Binder Error: nonsense")
		}
		return query.Result{Columns: []string{"1"}}, nil
	}}
	svc := newTestService(&fakeStore{dataset: readyDataset()}, &fakeRetriever{}, planner, engine)

	dashboard, err := svc.BuildDashboard(context.Background(), "tenant-1", "dataset-1")
	if err != nil {
		t.Fatalf("BuildDashboard() error = %v", err)
	}
	if len(dashboard.Widgets) != 4 {
		t.Fatalf("widgets = %d", len(dashboard.Widgets))
	}

	failed := 0
	for _, widget := range dashboard.Widgets {
		if widget.Title == "Broken" {
			if widget.Error == "" || widget.Answer != nil {
				t.Fatalf("broken widget = %#v, want inline error", widget)
			}
			failed++
			continue
		}
		if widget.Error != "" || widget.Answer == nil {
			t.Fatalf("widget %q = %#v, want answer", widget.Title, widget)
		}
	}
	if failed != 1 {
		t.Fatalf("failed widgets = %d", failed)
	}
}
