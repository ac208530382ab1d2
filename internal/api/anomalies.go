package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dataomen/dataomen/internal/anomaly"
	"github.com/dataomen/dataomen/internal/registry"
	"github.com/dataomen/dataomen/internal/watchdog"
)

type anomalyCheckRequest struct {
	DateColumn   string  `json:"date_column"`
	MetricColumn string  `json:"metric_column"`
	Strategy     string  `json:"strategy"`
	Threshold    float64 `json:"threshold"`
	LookbackDays int     `json:"lookback_days"`
}

type anomalyCheckResponse struct {
	DatasetID string           `json:"dataset_id"`
	Strategy  string           `json:"strategy"`
	Points    int              `json:"points"`
	Records   []anomaly.Record `json:"records"`
}

// handleAnomalyCheck scores one metric on demand, outside any monitor.
func handleAnomalyCheck(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ANOMALY_NOT_CONFIGURED", "anomaly dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request anomalyCheckRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid anomaly request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.DateColumn == "" || request.MetricColumn == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "COLUMNS_REQUIRED", "date_column and metric_column are required", false, nil)
		return
	}

	dataset, err := deps.Registry.GetDataset(r.Context(), tenantID, r.PathValue("dataset"))
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to load dataset")
		return
	}
	if dataset.Status != registry.StatusReady {
		writeRegistryError(r.Context(), w, registry.ErrNotReady, "")
		return
	}

	strategy := request.Strategy
	if strategy == "" {
		strategy = deps.Anomaly.Strategy
	}
	varianceThreshold := deps.Anomaly.VarianceThreshold
	zscoreThreshold := deps.Anomaly.ZScoreThreshold
	if request.Threshold > 0 {
		varianceThreshold = request.Threshold
		zscoreThreshold = request.Threshold
	}
	detector, err := anomaly.ForStrategy(strategy, deps.Anomaly.EMASpan, varianceThreshold, deps.Anomaly.ZScoreSpan, zscoreThreshold)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_STRATEGY", err.Error(), false, nil)
		return
	}

	lookback := request.LookbackDays
	if lookback <= 0 {
		lookback = 60
	}
	since := time.Now().AddDate(0, 0, -lookback)

	points, err := watchdog.FetchSeries(r.Context(), deps.Engine, dataset, request.DateColumn, request.MetricColumn, since)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "SERIES_FETCH_FAILED", "failed to fetch metric series", false, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, anomalyCheckResponse{
		DatasetID: dataset.DatasetID,
		Strategy:  detector.Name(),
		Points:    len(points),
		Records:   detector.Detect(points),
	})
}

func handleAnomalyScan(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Watchdog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WATCHDOG_NOT_CONFIGURED", "watchdog is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "ops_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	summary, alerts, err := deps.Watchdog.RunTenantScanOnce(r.Context(), tenantID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCAN_FAILED", "watchdog scan failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "alerts": alerts})
}

type createMonitorRequest struct {
	DatasetID    string  `json:"dataset_id"`
	DateColumn   string  `json:"date_column"`
	MetricColumn string  `json:"metric_column"`
	Strategy     string  `json:"strategy"`
	Threshold    float64 `json:"threshold"`
}

func handleCreateMonitor(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "ops_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createMonitorRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid monitor request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.DatasetID == "" || request.DateColumn == "" || request.MetricColumn == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FIELDS_REQUIRED", "dataset_id, date_column and metric_column are required", false, nil)
		return
	}

	if _, err := deps.Registry.GetDataset(r.Context(), tenantID, request.DatasetID); err != nil {
		writeRegistryError(r.Context(), w, err, "failed to load dataset")
		return
	}

	monitor, err := deps.Registry.CreateMonitor(r.Context(), registry.CreateMonitorInput{
		MonitorID:    uuid.NewString(),
		TenantID:     tenantID,
		DatasetID:    request.DatasetID,
		DateColumn:   request.DateColumn,
		MetricColumn: request.MetricColumn,
		Strategy:     request.Strategy,
		Threshold:    request.Threshold,
	})
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to create monitor")
		return
	}
	writeJSON(w, http.StatusCreated, monitorResponse(monitor))
}

func handleListMonitors(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	monitors, err := deps.Registry.ListMonitors(r.Context(), tenantID)
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to list monitors")
		return
	}
	responses := make([]map[string]any, len(monitors))
	for i, monitor := range monitors {
		responses[i] = monitorResponse(monitor)
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitors": responses})
}

func monitorResponse(monitor registry.Monitor) map[string]any {
	return map[string]any{
		"monitor_id":    monitor.MonitorID,
		"dataset_id":    monitor.DatasetID,
		"date_column":   monitor.DateColumn,
		"metric_column": monitor.MetricColumn,
		"strategy":      monitor.Strategy,
		"threshold":     monitor.Threshold,
		"active":        monitor.Active,
		"created_at":    monitor.CreatedAt,
	}
}
