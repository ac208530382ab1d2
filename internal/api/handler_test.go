package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dataomen/dataomen/internal/answer"
	"github.com/dataomen/dataomen/internal/auth"
	"github.com/dataomen/dataomen/internal/compiler"
	"github.com/dataomen/dataomen/internal/config"
	"github.com/dataomen/dataomen/internal/registry"
	"github.com/dataomen/dataomen/internal/watchdog"
)

type fakeRepository struct {
	registry.Repository

	datasets map[string]registry.Dataset
	columns  map[string][]registry.Column
	monitors []registry.Monitor
	created  []registry.CreateDatasetInput
	deleted  []string
}

func (f *fakeRepository) CreateDataset(_ context.Context, in registry.CreateDatasetInput) (registry.Dataset, error) {
	f.created = append(f.created, in)
	return registry.Dataset{
		DatasetID:        in.DatasetID,
		TenantID:         in.TenantID,
		Name:             in.Name,
		OriginalFilename: in.OriginalFilename,
		Status:           registry.StatusPending,
	}, nil
}

func (f *fakeRepository) GetDataset(_ context.Context, tenantID, datasetID string) (registry.Dataset, error) {
	dataset, ok := f.datasets[datasetID]
	if !ok || dataset.TenantID != tenantID {
		return registry.Dataset{}, registry.ErrNotFound
	}
	return dataset, nil
}

func (f *fakeRepository) ListDatasets(_ context.Context, tenantID string) ([]registry.Dataset, error) {
	out := make([]registry.Dataset, 0)
	for _, dataset := range f.datasets {
		if dataset.TenantID == tenantID {
			out = append(out, dataset)
		}
	}
	return out, nil
}

func (f *fakeRepository) DeleteDataset(_ context.Context, tenantID, datasetID string) (bool, error) {
	dataset, ok := f.datasets[datasetID]
	if !ok || dataset.TenantID != tenantID {
		return false, nil
	}
	delete(f.datasets, datasetID)
	f.deleted = append(f.deleted, datasetID)
	return true, nil
}

func (f *fakeRepository) ListColumns(_ context.Context, datasetID string) ([]registry.Column, error) {
	return f.columns[datasetID], nil
}

func (f *fakeRepository) CreateMonitor(_ context.Context, in registry.CreateMonitorInput) (registry.Monitor, error) {
	monitor := registry.Monitor{
		MonitorID:    in.MonitorID,
		TenantID:     in.TenantID,
		DatasetID:    in.DatasetID,
		DateColumn:   in.DateColumn,
		MetricColumn: in.MetricColumn,
		Strategy:     in.Strategy,
		Threshold:    in.Threshold,
		Active:       true,
	}
	f.monitors = append(f.monitors, monitor)
	return monitor, nil
}

func (f *fakeRepository) ListMonitors(_ context.Context, tenantID string) ([]registry.Monitor, error) {
	out := make([]registry.Monitor, 0)
	for _, monitor := range f.monitors {
		if monitor.TenantID == tenantID {
			out = append(out, monitor)
		}
	}
	return out, nil
}

type fakeAnswerService struct {
	answer    answer.Answer
	dashboard answer.Dashboard
	err       error
}

func (f *fakeAnswerService) Ask(context.Context, string, string, string) (answer.Answer, error) {
	if f.err != nil {
		return answer.Answer{}, f.err
	}
	return f.answer, nil
}

func (f *fakeAnswerService) BuildDashboard(context.Context, string, string) (answer.Dashboard, error) {
	if f.err != nil {
		return answer.Dashboard{}, f.err
	}
	return f.dashboard, nil
}

type fakeNarrator struct{ summary string }

func (f *fakeNarrator) SummarizeResult(context.Context, string, []string, [][]any) string {
	return f.summary
}

type fakeWatchdogRunner struct {
	summary    watchdog.ScanSummary
	alerts     map[string][]watchdog.Alert
	lastTenant string
}

func (f *fakeWatchdogRunner) RunTenantScanOnce(_ context.Context, tenantID string) (watchdog.ScanSummary, []watchdog.Alert, error) {
	f.lastTenant = tenantID
	return f.summary, f.alerts[tenantID], nil
}

type fakeIndexer struct {
	column registry.Column
	err    error
}

func (f *fakeIndexer) ReindexColumn(_ context.Context, datasetID, columnName, description string) (registry.Column, error) {
	if f.err != nil {
		return registry.Column{}, f.err
	}
	column := f.column
	column.DatasetID = datasetID
	column.Name = columnName
	column.Description = description
	return column, nil
}

type recordingProcessor struct {
	done chan registry.Dataset
}

func (p *recordingProcessor) Process(_ context.Context, dataset registry.Dataset, _ io.Reader) error {
	p.done <- dataset
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Service: config.ServiceConfig{Name: "dataomen"},
		Auth:    config.AuthConfig{Required: true},
	}
}

func newTestHandler(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	validator, err := auth.NewStaticAPIKeyValidator("reader:t1:query_reader,writer:t1:ingest_writer|query_reader,ops:t1:ops_admin")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	deps.AuthMiddleware = auth.Middleware(deps.Logger, validator)
	return NewHandler(testConfig(), deps)
}

func readyDatasetFixture() *fakeRepository {
	return &fakeRepository{
		datasets: map[string]registry.Dataset{
			"d1": {
				DatasetID:  "d1",
				TenantID:   "t1",
				Name:       "orders",
				ObjectPath: "t1/d1/data.parquet",
				Status:     registry.StatusReady,
			},
		},
		columns: map[string][]registry.Column{
			"d1": {
				{DatasetID: "d1", Name: "order_date", Type: "DATE", Position: 0},
				{DatasetID: "d1", Name: "revenue", Type: "DOUBLE", Position: 1},
			},
		},
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Registry: readyDatasetFixture()})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProtectedEndpointsRequireAPIKey(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Registry: readyDatasetFixture()})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/datasets", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestQuestionReturnsAnswerWithNarrative(t *testing.T) {
	answerService := &fakeAnswerService{answer: answer.Answer{
		Question: "revenue per day",
		SQL:      "SELECT order_date, SUM(revenue) AS total FROM dataset GROUP BY 1",
		Display:  compiler.Display{Type: "line_chart", XAxis: "order_date", YAxis: "total"},
		Columns:  []string{"order_date", "total"},
		Rows:     [][]any{{"2026-01-01", 10.5}},
		Attempts: 2,
	}}
	handler := newTestHandler(t, Dependencies{
		Registry: readyDatasetFixture(),
		Answer:   answerService,
		Narrator: &fakeNarrator{summary: "Revenue grew. Monday led. Watch churn."},
	})

	body := `{"question": "revenue per day", "with_narrative": true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/d1/question", strings.NewReader(body))
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var response questionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if response.Attempts != 2 || response.Display.Type != "line_chart" {
		t.Fatalf("response = %+v", response)
	}
	if response.Narrative != "Revenue grew. Monday led. Watch churn." {
		t.Fatalf("Narrative = %q", response.Narrative)
	}
}

func TestQuestionExhaustedMapsTo422(t *testing.T) {
	handler := newTestHandler(t, Dependencies{
		Registry: readyDatasetFixture(),
		Answer:   &fakeAnswerService{err: &answer.ExhaustedError{Attempts: 3, LastError: "Binder Error"}},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/d1/question", strings.NewReader(`{"question": "q"}`))
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "QUESTION_EXHAUSTED") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQuestionNotReadyMapsTo409(t *testing.T) {
	handler := newTestHandler(t, Dependencies{
		Registry: readyDatasetFixture(),
		Answer:   &fakeAnswerService{err: registry.ErrNotReady},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets/d1/question", strings.NewReader(`{"question": "q"}`))
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestUploadDatasetAcceptsAndProcessesInBackground(t *testing.T) {
	repo := readyDatasetFixture()
	processor := &recordingProcessor{done: make(chan registry.Dataset, 1)}
	handler := newTestHandler(t, Dependencies{Registry: repo, Processor: processor})

	buf := bytes.NewBuffer(nil)
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", "orders.csv")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	_, _ = part.Write([]byte("a,b\n1,2\n"))
	_ = writer.WriteField("name", "orders")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-API-Key", "writer")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var response datasetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if response.Status != string(registry.StatusPending) || response.Name != "orders" {
		t.Fatalf("response = %+v", response)
	}

	select {
	case dataset := <-processor.done:
		if dataset.DatasetID != response.DatasetID {
			t.Fatalf("processed dataset = %q, want %q", dataset.DatasetID, response.DatasetID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("processor was not invoked")
	}
}

func TestUploadDatasetRequiresWriterRole(t *testing.T) {
	handler := newTestHandler(t, Dependencies{
		Registry:  readyDatasetFixture(),
		Processor: &recordingProcessor{done: make(chan registry.Dataset, 1)},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/datasets", strings.NewReader("x"))
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetSchemaListsColumns(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Registry: readyDatasetFixture()})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/d1/schema", nil)
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"revenue"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGetDatasetScopedToTenant(t *testing.T) {
	repo := readyDatasetFixture()
	repo.datasets["d2"] = registry.Dataset{DatasetID: "d2", TenantID: "t2", Status: registry.StatusReady}
	handler := newTestHandler(t, Dependencies{Registry: repo})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/d2", nil)
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want foreign tenant dataset hidden", rec.Code)
	}
}

func TestPatchColumnReindexesDescription(t *testing.T) {
	handler := newTestHandler(t, Dependencies{
		Registry: readyDatasetFixture(),
		Indexer:  &fakeIndexer{column: registry.Column{Type: "DOUBLE", Position: 1}},
	})

	req := httptest.NewRequest(http.MethodPatch, "/v1/datasets/d1/schema/revenue",
		strings.NewReader(`{"description": "Net revenue after refunds"}`))
	req.Header.Set("X-API-Key", "writer")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Net revenue after refunds") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestCreateMonitorRequiresOpsRole(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Registry: readyDatasetFixture()})

	body := `{"dataset_id": "d1", "date_column": "order_date", "metric_column": "revenue"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/monitors", strings.NewReader(body))
	req.Header.Set("X-API-Key", "reader")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/monitors", strings.NewReader(body))
	req.Header.Set("X-API-Key", "ops")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestAnomalyScanIsScopedToCallerTenant(t *testing.T) {
	runner := &fakeWatchdogRunner{
		summary: watchdog.ScanSummary{MonitorsScanned: 1, AlertsRaised: 1},
		alerts: map[string][]watchdog.Alert{
			"t1": {{MonitorID: "m1", TenantID: "t1", MetricColumn: "revenue"}},
			"t2": {{MonitorID: "m2", TenantID: "t2", DatasetName: "payroll", MetricColumn: "salary"}},
		},
	}
	handler := newTestHandler(t, Dependencies{
		Registry: readyDatasetFixture(),
		Watchdog: runner,
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/anomalies/scan", nil)
	req.Header.Set("X-API-Key", "ops")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if runner.lastTenant != "t1" {
		t.Fatalf("scan tenant = %q, want the caller's tenant", runner.lastTenant)
	}
	if !strings.Contains(rec.Body.String(), `"monitors_scanned":1`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "payroll") || strings.Contains(rec.Body.String(), `"t2"`) {
		t.Fatalf("response leaked another tenant's alerts: %s", rec.Body.String())
	}
}
