package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dataomen/dataomen/internal/registry"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping registry db: %w", err)
	}
	return nil
}

func (r *Repository) CreateTenant(ctx context.Context, in registry.CreateTenantInput) (registry.Tenant, error) {
	status := in.Status
	if status == "" {
		status = "active"
	}

	query := `
INSERT INTO tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.TenantID, in.Name, status).Scan(&createdAt); err != nil {
		return registry.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return registry.Tenant{
		TenantID:  in.TenantID,
		Name:      in.Name,
		Status:    status,
		CreatedAt: createdAt,
	}, nil
}

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (registry.Tenant, error) {
	query := `
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE tenant_id = $1`

	var tenant registry.Tenant
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&tenant.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Tenant{}, registry.ErrNotFound
		}
		return registry.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]registry.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE status = 'active'
ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tenants := make([]registry.Tenant, 0)
	for rows.Next() {
		var tenant registry.Tenant
		if err := rows.Scan(&tenant.TenantID, &tenant.Name, &tenant.Status, &tenant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant rows: %w", err)
	}
	return tenants, nil
}

func (r *Repository) CreateDataset(ctx context.Context, in registry.CreateDatasetInput) (registry.Dataset, error) {
	query := `
INSERT INTO dataset (dataset_id, tenant_id, name, original_filename, status)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING created_at, updated_at`

	dataset := registry.Dataset{
		DatasetID:        in.DatasetID,
		TenantID:         in.TenantID,
		Name:             in.Name,
		OriginalFilename: in.OriginalFilename,
		Status:           registry.StatusPending,
	}
	if err := r.db.QueryRowContext(ctx, query, in.DatasetID, in.TenantID, in.Name, in.OriginalFilename).
		Scan(&dataset.CreatedAt, &dataset.UpdatedAt); err != nil {
		return registry.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	return dataset, nil
}

func (r *Repository) GetDataset(ctx context.Context, tenantID, datasetID string) (registry.Dataset, error) {
	query := `
SELECT dataset_id, tenant_id, name, original_filename, COALESCE(object_path, ''), status, COALESCE(row_count, 0), created_at, updated_at
FROM dataset
WHERE tenant_id = $1 AND dataset_id = $2`

	var dataset registry.Dataset
	if err := r.db.QueryRowContext(ctx, query, tenantID, datasetID).Scan(
		&dataset.DatasetID,
		&dataset.TenantID,
		&dataset.Name,
		&dataset.OriginalFilename,
		&dataset.ObjectPath,
		&dataset.Status,
		&dataset.RowCount,
		&dataset.CreatedAt,
		&dataset.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Dataset{}, registry.ErrNotFound
		}
		return registry.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return dataset, nil
}

func (r *Repository) ListDatasets(ctx context.Context, tenantID string) ([]registry.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT dataset_id, tenant_id, name, original_filename, COALESCE(object_path, ''), status, COALESCE(row_count, 0), created_at, updated_at
FROM dataset
WHERE tenant_id = $1
ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	datasets := make([]registry.Dataset, 0)
	for rows.Next() {
		var dataset registry.Dataset
		if err := rows.Scan(
			&dataset.DatasetID,
			&dataset.TenantID,
			&dataset.Name,
			&dataset.OriginalFilename,
			&dataset.ObjectPath,
			&dataset.Status,
			&dataset.RowCount,
			&dataset.CreatedAt,
			&dataset.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return datasets, nil
}

func (r *Repository) DeleteDataset(ctx context.Context, tenantID, datasetID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM dataset
WHERE tenant_id = $1 AND dataset_id = $2`, tenantID, datasetID)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) SetDatasetStatus(ctx context.Context, datasetID string, status registry.Status) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE dataset
SET status = $2, updated_at = now()
WHERE dataset_id = $1`, datasetID, string(status))
	if err != nil {
		return fmt.Errorf("set dataset status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set dataset status rows affected: %w", err)
	}
	if affected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *Repository) FinalizeDataset(ctx context.Context, in registry.FinalizeDatasetInput) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE dataset
SET object_path = $2, row_count = $3, status = $4, updated_at = now()
WHERE dataset_id = $1`, in.DatasetID, in.ObjectPath, in.RowCount, string(in.Status))
	if err != nil {
		return fmt.Errorf("finalize dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize dataset rows affected: %w", err)
	}
	if affected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (r *Repository) UpsertColumn(ctx context.Context, column registry.Column) error {
	query := `
INSERT INTO dataset_column (dataset_id, column_name, data_type, description, position, embedding)
VALUES ($1, $2, $3, $4, $5, $6::vector)
ON CONFLICT (dataset_id, column_name)
DO UPDATE SET data_type = EXCLUDED.data_type,
              description = EXCLUDED.description,
              position = EXCLUDED.position,
              embedding = EXCLUDED.embedding`
	if _, err := r.db.ExecContext(ctx, query,
		column.DatasetID,
		column.Name,
		column.Type,
		column.Description,
		column.Position,
		vectorLiteral(column.Embedding),
	); err != nil {
		return fmt.Errorf("upsert column: %w", err)
	}
	return nil
}

func (r *Repository) ListColumns(ctx context.Context, datasetID string) ([]registry.Column, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT dataset_id, column_name, data_type, description, position
FROM dataset_column
WHERE dataset_id = $1
ORDER BY position ASC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]registry.Column, 0)
	for rows.Next() {
		var column registry.Column
		if err := rows.Scan(&column.DatasetID, &column.Name, &column.Type, &column.Description, &column.Position); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

func (r *Repository) GetColumn(ctx context.Context, datasetID, columnName string) (registry.Column, error) {
	query := `
SELECT dataset_id, column_name, data_type, description, position
FROM dataset_column
WHERE dataset_id = $1 AND column_name = $2`

	var column registry.Column
	if err := r.db.QueryRowContext(ctx, query, datasetID, columnName).Scan(
		&column.DatasetID,
		&column.Name,
		&column.Type,
		&column.Description,
		&column.Position,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Column{}, registry.ErrNotFound
		}
		return registry.Column{}, fmt.Errorf("get column: %w", err)
	}
	return column, nil
}

// SearchColumns ranks a dataset's columns by cosine distance to the query
// embedding using pgvector's <=> operator. Ties fall back to declaration
// order. Columns indexed before an embedding was available sort last.
func (r *Repository) SearchColumns(ctx context.Context, datasetID string, embedding []float32, topK int) ([]registry.Column, error) {
	if topK <= 0 {
		topK = 10
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT dataset_id, column_name, data_type, description, position
FROM dataset_column
WHERE dataset_id = $1
ORDER BY embedding <=> $2::vector ASC NULLS LAST, position ASC
LIMIT $3`, datasetID, vectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("search columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]registry.Column, 0, topK)
	for rows.Next() {
		var column registry.Column
		if err := rows.Scan(&column.DatasetID, &column.Name, &column.Type, &column.Description, &column.Position); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

func (r *Repository) CreateMonitor(ctx context.Context, in registry.CreateMonitorInput) (registry.Monitor, error) {
	strategy := in.Strategy
	if strategy == "" {
		strategy = "seasonal_ema"
	}
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = 0.20
	}

	query := `
INSERT INTO metric_monitor (monitor_id, tenant_id, dataset_id, date_column, metric_column, strategy, threshold)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`

	monitor := registry.Monitor{
		MonitorID:    in.MonitorID,
		TenantID:     in.TenantID,
		DatasetID:    in.DatasetID,
		DateColumn:   in.DateColumn,
		MetricColumn: in.MetricColumn,
		Strategy:     strategy,
		Threshold:    threshold,
		Active:       true,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.MonitorID, in.TenantID, in.DatasetID, in.DateColumn, in.MetricColumn, strategy, threshold,
	).Scan(&monitor.CreatedAt); err != nil {
		return registry.Monitor{}, fmt.Errorf("create monitor: %w", err)
	}
	return monitor, nil
}

func (r *Repository) ListMonitors(ctx context.Context, tenantID string) ([]registry.Monitor, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT monitor_id, tenant_id, dataset_id, date_column, metric_column, strategy, threshold, active, created_at
FROM metric_monitor
WHERE tenant_id = $1 AND active
ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	return scanMonitors(rows)
}

func (r *Repository) ListActiveMonitors(ctx context.Context) ([]registry.Monitor, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT monitor_id, tenant_id, dataset_id, date_column, metric_column, strategy, threshold, active, created_at
FROM metric_monitor
WHERE active
ORDER BY tenant_id ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active monitors: %w", err)
	}
	return scanMonitors(rows)
}

func scanMonitors(rows *sql.Rows) ([]registry.Monitor, error) {
	defer func() { _ = rows.Close() }()

	monitors := make([]registry.Monitor, 0)
	for rows.Next() {
		var monitor registry.Monitor
		if err := rows.Scan(
			&monitor.MonitorID,
			&monitor.TenantID,
			&monitor.DatasetID,
			&monitor.DateColumn,
			&monitor.MetricColumn,
			&monitor.Strategy,
			&monitor.Threshold,
			&monitor.Active,
			&monitor.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan monitor row: %w", err)
		}
		monitors = append(monitors, monitor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor rows: %w", err)
	}
	return monitors, nil
}

// vectorLiteral renders an embedding in pgvector's text input format.
func vectorLiteral(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, value := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(value), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
