package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataomen/dataomen/internal/answer"
	"github.com/dataomen/dataomen/internal/auth"
	"github.com/dataomen/dataomen/internal/config"
	"github.com/dataomen/dataomen/internal/observability"
	"github.com/dataomen/dataomen/internal/query"
	"github.com/dataomen/dataomen/internal/registry"
	"github.com/dataomen/dataomen/internal/storage"
	"github.com/dataomen/dataomen/internal/watchdog"
)

type ReadinessCheck func(ctx context.Context) error

// AnswerService is the question pipeline surface the handlers call.
type AnswerService interface {
	Ask(ctx context.Context, tenantID, datasetID, question string) (answer.Answer, error)
	BuildDashboard(ctx context.Context, tenantID, datasetID string) (answer.Dashboard, error)
}

// WatchdogRunner triggers one tenant-scoped monitor scan on demand.
// The all-tenant scan stays inside the scheduled watchdog loop.
type WatchdogRunner interface {
	RunTenantScanOnce(ctx context.Context, tenantID string) (watchdog.ScanSummary, []watchdog.Alert, error)
}

// Narrator produces the optional executive summary of a result.
type Narrator interface {
	SummarizeResult(ctx context.Context, question string, columns []string, rows [][]any) string
}

// SchemaIndexer re-embeds a column after its description changes.
type SchemaIndexer interface {
	ReindexColumn(ctx context.Context, datasetID, columnName, description string) (registry.Column, error)
}

// DatasetProcessor runs the ingestion pipeline for a staged upload.
type DatasetProcessor interface {
	Process(ctx context.Context, dataset registry.Dataset, csvData io.Reader) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Registry          registry.Repository
	Store             storage.ObjectStore
	Answer            AnswerService
	Watchdog          WatchdogRunner
	Narrator          Narrator
	Indexer           SchemaIndexer
	Engine            query.Engine
	Processor         DatasetProcessor
	UploadMaxBytes    int64
	Anomaly           config.AnomalyConfig
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleUploadDataset(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets", func(w http.ResponseWriter, r *http.Request) {
		handleListDatasets(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleGetDataset(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/datasets/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDataset(deps, w, r)
	})
	protected.HandleFunc("GET /v1/datasets/{dataset}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleGetSchema(deps, w, r)
	})
	protected.HandleFunc("PATCH /v1/datasets/{dataset}/schema/{column}", func(w http.ResponseWriter, r *http.Request) {
		handlePatchColumn(deps, w, r)
	})

	protected.HandleFunc("POST /v1/datasets/{dataset}/question", func(w http.ResponseWriter, r *http.Request) {
		handleQuestion(deps, w, r)
	})
	protected.HandleFunc("POST /v1/datasets/{dataset}/dashboard", func(w http.ResponseWriter, r *http.Request) {
		handleDashboard(deps, w, r)
	})
	protected.HandleFunc("POST /v1/datasets/{dataset}/anomalies", func(w http.ResponseWriter, r *http.Request) {
		handleAnomalyCheck(deps, w, r)
	})

	protected.HandleFunc("GET /v1/monitors", func(w http.ResponseWriter, r *http.Request) {
		handleListMonitors(deps, w, r)
	})
	protected.HandleFunc("POST /v1/monitors", func(w http.ResponseWriter, r *http.Request) {
		handleCreateMonitor(deps, w, r)
	})
	protected.HandleFunc("POST /v1/anomalies/scan", func(w http.ResponseWriter, r *http.Request) {
		handleAnomalyScan(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/datasets", protectedHandler)
	mux.Handle("GET /v1/datasets", protectedHandler)
	mux.Handle("GET /v1/datasets/{dataset}", protectedHandler)
	mux.Handle("DELETE /v1/datasets/{dataset}", protectedHandler)
	mux.Handle("GET /v1/datasets/{dataset}/schema", protectedHandler)
	mux.Handle("PATCH /v1/datasets/{dataset}/schema/{column}", protectedHandler)
	mux.Handle("POST /v1/datasets/{dataset}/question", protectedHandler)
	mux.Handle("POST /v1/datasets/{dataset}/dashboard", protectedHandler)
	mux.Handle("POST /v1/datasets/{dataset}/anomalies", protectedHandler)
	mux.Handle("GET /v1/monitors", protectedHandler)
	mux.Handle("POST /v1/monitors", protectedHandler)
	mux.Handle("POST /v1/anomalies/scan", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckRegistryDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Registry.DSN == "" {
			return errors.New("registry dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func tenantFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.TenantID) != "" {
			return identity.TenantID, nil
		}
	}
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		return "", fmt.Errorf("tenant context is required")
	}
	return tenantID, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

// writeRegistryError maps the registry sentinel errors onto the API
// envelope; anything else is an internal failure.
func writeRegistryError(ctx context.Context, w http.ResponseWriter, err error, fallbackMessage string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", "dataset not found", false, nil)
	case errors.Is(err, registry.ErrNotReady):
		writeError(ctx, w, http.StatusConflict, "DATASET_NOT_READY", "dataset is not ready for queries yet", true, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "REGISTRY_ERROR", fallbackMessage, true, map[string]any{"details": err.Error()})
	}
}
