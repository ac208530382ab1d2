package registry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("registry: not found")
	// ErrNotReady is returned when a dataset exists but its ingestion
	// pipeline has not reached the ready status yet (or has failed).
	ErrNotReady = errors.New("registry: dataset is not ready")
)

// Status tracks the ingestion lifecycle of a dataset.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

type Repository interface {
	HealthCheck(ctx context.Context) error

	CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)

	CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error)
	GetDataset(ctx context.Context, tenantID, datasetID string) (Dataset, error)
	ListDatasets(ctx context.Context, tenantID string) ([]Dataset, error)
	DeleteDataset(ctx context.Context, tenantID, datasetID string) (bool, error)
	SetDatasetStatus(ctx context.Context, datasetID string, status Status) error
	FinalizeDataset(ctx context.Context, in FinalizeDatasetInput) error

	UpsertColumn(ctx context.Context, column Column) error
	ListColumns(ctx context.Context, datasetID string) ([]Column, error)
	GetColumn(ctx context.Context, datasetID, columnName string) (Column, error)
	SearchColumns(ctx context.Context, datasetID string, embedding []float32, topK int) ([]Column, error)

	CreateMonitor(ctx context.Context, in CreateMonitorInput) (Monitor, error)
	ListMonitors(ctx context.Context, tenantID string) ([]Monitor, error)
	ListActiveMonitors(ctx context.Context) ([]Monitor, error)
}

type Tenant struct {
	TenantID  string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Dataset tracks the metadata and object-store location of a processed
// Parquet file. The analytical row data itself never lives in the registry.
type Dataset struct {
	DatasetID        string
	TenantID         string
	Name             string
	OriginalFilename string
	ObjectPath       string
	Status           Status
	RowCount         int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Column is one inferred column of a dataset schema. Position preserves
// declaration order, which breaks similarity ties during retrieval. The
// embedding is recomputed whenever the description changes.
type Column struct {
	DatasetID   string
	Name        string
	Type        string
	Description string
	Position    int
	Embedding   []float32
}

// Monitor names one (dataset, date column, metric column) series the
// watchdog checks each cycle.
type Monitor struct {
	MonitorID    string
	TenantID     string
	DatasetID    string
	DateColumn   string
	MetricColumn string
	Strategy     string
	Threshold    float64
	Active       bool
	CreatedAt    time.Time
}

type CreateTenantInput struct {
	TenantID string
	Name     string
	Status   string
}

type CreateDatasetInput struct {
	DatasetID        string
	TenantID         string
	Name             string
	OriginalFilename string
}

type FinalizeDatasetInput struct {
	DatasetID  string
	ObjectPath string
	RowCount   int64
	Status     Status
}

type CreateMonitorInput struct {
	MonitorID    string
	TenantID     string
	DatasetID    string
	DateColumn   string
	MetricColumn string
	Strategy     string
	Threshold    float64
}
