// Package watchdog periodically scans monitored metrics for anomalies
// and raises narrated alerts.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dataomen/dataomen/internal/anomaly"
	"github.com/dataomen/dataomen/internal/observability"
	"github.com/dataomen/dataomen/internal/query"
	"github.com/dataomen/dataomen/internal/registry"
)

// Registry is the slice of the registry the watchdog reads.
type Registry interface {
	ListActiveMonitors(ctx context.Context) ([]registry.Monitor, error)
	ListMonitors(ctx context.Context, tenantID string) ([]registry.Monitor, error)
	GetDataset(ctx context.Context, tenantID, datasetID string) (registry.Dataset, error)
}

// Alerter narrates a breached record. The narrative generator satisfies
// it; tests substitute a fake.
type Alerter interface {
	SummarizeAnomaly(ctx context.Context, datasetName, metricColumn string, record anomaly.Record) string
}

type Config struct {
	Interval     time.Duration
	LookbackDays int
	// MinHistory is the fewest observations a series needs before it is
	// scored. Shorter series are skipped, not failed.
	MinHistory        int
	EMASpan           int
	VarianceThreshold float64
	ZScoreSpan        int
	ZScoreThreshold   float64
}

type Service struct {
	Registry Registry
	Engine   query.Engine
	Alerter  Alerter
	Config   Config
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Alert struct {
	MonitorID    string         `json:"monitor_id"`
	TenantID     string         `json:"tenant_id"`
	DatasetID    string         `json:"dataset_id"`
	DatasetName  string         `json:"dataset_name"`
	MetricColumn string         `json:"metric_column"`
	Record       anomaly.Record `json:"record"`
	Narrative    string         `json:"narrative"`
}

type ScanSummary struct {
	MonitorsScanned int `json:"monitors_scanned"`
	MonitorsSkipped int `json:"monitors_skipped"`
	AlertsRaised    int `json:"alerts_raised"`
	Failures        int `json:"failures"`
}

func (s *Service) ensureDefaults() {
	if s.Config.Interval <= 0 {
		s.Config.Interval = 24 * time.Hour
	}
	if s.Config.LookbackDays <= 0 {
		s.Config.LookbackDays = 60
	}
	if s.Config.MinHistory <= 0 {
		s.Config.MinHistory = 14
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, _, err := s.RunScanOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "watchdog scan failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.Logger.InfoContext(ctx, "watchdog scan completed", slog.Any("summary", summary))
		}
	}
}

// RunScanOnce evaluates every active monitor across all tenants. Only
// the scheduled scan loop may call it; request paths go through
// RunTenantScanOnce so one tenant never sees another tenant's alerts.
func (s *Service) RunScanOnce(ctx context.Context) (ScanSummary, []Alert, error) {
	s.ensureDefaults()
	if err := s.checkDependencies(); err != nil {
		return ScanSummary{}, nil, err
	}

	monitors, err := s.Registry.ListActiveMonitors(ctx)
	if err != nil {
		return ScanSummary{}, nil, fmt.Errorf("list active monitors: %w", err)
	}
	return s.scanMonitors(ctx, monitors)
}

// RunTenantScanOnce evaluates the active monitors of a single tenant.
func (s *Service) RunTenantScanOnce(ctx context.Context, tenantID string) (ScanSummary, []Alert, error) {
	s.ensureDefaults()
	if err := s.checkDependencies(); err != nil {
		return ScanSummary{}, nil, err
	}
	if tenantID == "" {
		return ScanSummary{}, nil, fmt.Errorf("tenant id is required")
	}

	all, err := s.Registry.ListMonitors(ctx, tenantID)
	if err != nil {
		return ScanSummary{}, nil, fmt.Errorf("list tenant monitors: %w", err)
	}
	monitors := make([]registry.Monitor, 0, len(all))
	for _, monitor := range all {
		if monitor.Active && monitor.TenantID == tenantID {
			monitors = append(monitors, monitor)
		}
	}
	return s.scanMonitors(ctx, monitors)
}

func (s *Service) checkDependencies() error {
	if s.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if s.Engine == nil {
		return fmt.Errorf("query engine is required")
	}
	return nil
}

// scanMonitors evaluates each monitor once. A monitor that fails counts
// in the summary without aborting the scan.
func (s *Service) scanMonitors(ctx context.Context, monitors []registry.Monitor) (ScanSummary, []Alert, error) {
	summary := ScanSummary{}
	alerts := make([]Alert, 0)
	since := s.Clock().AddDate(0, 0, -s.Config.LookbackDays)

	for _, monitor := range monitors {
		summary.MonitorsScanned++

		monitorAlerts, skipped, err := s.scanMonitor(ctx, monitor, since)
		if err != nil {
			summary.Failures++
			s.Logger.WarnContext(ctx, "monitor scan failed",
				slog.String("monitor_id", monitor.MonitorID),
				slog.String("dataset_id", monitor.DatasetID),
				slog.Any("error", err))
			continue
		}
		if skipped {
			summary.MonitorsSkipped++
			continue
		}
		alerts = append(alerts, monitorAlerts...)
	}

	summary.AlertsRaised = len(alerts)
	return summary, alerts, nil
}

func (s *Service) scanMonitor(ctx context.Context, monitor registry.Monitor, since time.Time) ([]Alert, bool, error) {
	dataset, err := s.Registry.GetDataset(ctx, monitor.TenantID, monitor.DatasetID)
	if err != nil {
		return nil, false, err
	}
	if dataset.Status != registry.StatusReady {
		return nil, true, nil
	}

	points, err := FetchSeries(ctx, s.Engine, dataset, monitor.DateColumn, monitor.MetricColumn, since)
	if err != nil {
		return nil, false, err
	}
	if len(points) < s.Config.MinHistory {
		observability.IncrementWatchdogMetricSkipped()
		s.Logger.DebugContext(ctx, "monitor skipped for insufficient history",
			slog.String("monitor_id", monitor.MonitorID),
			slog.Int("points", len(points)),
			slog.Int("min_history", s.Config.MinHistory))
		return nil, true, nil
	}

	detector, err := s.detectorFor(monitor)
	if err != nil {
		return nil, false, err
	}

	records := detector.Detect(points)
	alerts := make([]Alert, 0)
	for _, record := range records {
		if !record.Breach {
			continue
		}
		alert := Alert{
			MonitorID:    monitor.MonitorID,
			TenantID:     monitor.TenantID,
			DatasetID:    monitor.DatasetID,
			DatasetName:  dataset.Name,
			MetricColumn: monitor.MetricColumn,
			Record:       record,
		}
		if s.Alerter != nil {
			alert.Narrative = s.Alerter.SummarizeAnomaly(ctx, dataset.Name, monitor.MetricColumn, record)
		}
		alerts = append(alerts, alert)
	}
	observability.AddAnomaliesFlagged(detector.Name(), len(alerts))
	return alerts, false, nil
}

func (s *Service) detectorFor(monitor registry.Monitor) (anomaly.Detector, error) {
	varianceThreshold := s.Config.VarianceThreshold
	zscoreThreshold := s.Config.ZScoreThreshold
	if monitor.Threshold > 0 {
		varianceThreshold = monitor.Threshold
		zscoreThreshold = monitor.Threshold
	}
	return anomaly.ForStrategy(monitor.Strategy, s.Config.EMASpan, varianceThreshold, s.Config.ZScoreSpan, zscoreThreshold)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FetchSeries aggregates a daily metric series from the dataset. Column
// names come from stored monitor rows or request payloads, so they are
// validated as bare identifiers before being quoted into SQL.
func FetchSeries(ctx context.Context, engine query.Engine, dataset registry.Dataset, dateColumn, metricColumn string, since time.Time) ([]anomaly.Point, error) {
	if !identPattern.MatchString(dateColumn) {
		return nil, fmt.Errorf("invalid date column %q", dateColumn)
	}
	if !identPattern.MatchString(metricColumn) {
		return nil, fmt.Errorf("invalid metric column %q", metricColumn)
	}

	sqlText := fmt.Sprintf(
		`SELECT CAST("%s" AS DATE) AS bucket, SUM("%s") AS metric FROM %s WHERE CAST("%s" AS DATE) >= DATE '%s' GROUP BY 1 ORDER BY 1`,
		dateColumn, metricColumn, query.VirtualTable, dateColumn, since.Format("2006-01-02"),
	)

	result, err := engine.Execute(ctx, query.Request{
		SQL: sqlText,
		File: query.DatasetFile{
			TenantID:   dataset.TenantID,
			DatasetID:  dataset.DatasetID,
			ObjectPath: dataset.ObjectPath,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch series: %w", err)
	}

	points := make([]anomaly.Point, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 2 {
			continue
		}
		timestamp, ok := parseTimestamp(row[0])
		if !ok {
			return nil, fmt.Errorf("fetch series: unparseable date value %#v", row[0])
		}
		value, ok := parseNumeric(row[1])
		if !ok {
			continue
		}
		points = append(points, anomaly.Point{Timestamp: timestamp, Value: value})
	}
	return points, nil
}

func parseTimestamp(value any) (time.Time, bool) {
	switch typed := value.(type) {
	case time.Time:
		return typed, true
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if parsed, err := time.Parse(layout, typed); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func parseNumeric(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case nil:
		return 0, false
	}
	return 0, false
}
