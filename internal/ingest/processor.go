package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dataomen/dataomen/internal/observability"
	"github.com/dataomen/dataomen/internal/query"
	"github.com/dataomen/dataomen/internal/registry"
	"github.com/dataomen/dataomen/internal/storage"
)

// Registry is the slice of the registry the processor writes.
type Registry interface {
	SetDatasetStatus(ctx context.Context, datasetID string, status registry.Status) error
	FinalizeDataset(ctx context.Context, in registry.FinalizeDatasetInput) error
}

// Indexer embeds and stores the dataset schema after processing.
type Indexer interface {
	IndexDatasetSchema(ctx context.Context, datasetID string, columns []registry.Column) error
}

type Processor struct {
	Registry Registry
	Store    storage.ObjectStore
	Indexer  Indexer
	Engine   query.Engine
	Logger   *slog.Logger
}

// Process runs the full pipeline for one uploaded CSV: sanitize, encode
// to Parquet, upload, validate the row count through the query engine,
// finalize the dataset and index its schema. Any failure marks the
// dataset failed.
func (p *Processor) Process(ctx context.Context, dataset registry.Dataset, csvData io.Reader) error {
	if err := p.run(ctx, dataset, csvData); err != nil {
		if statusErr := p.Registry.SetDatasetStatus(ctx, dataset.DatasetID, registry.StatusFailed); statusErr != nil {
			p.Logger.ErrorContext(ctx, "failed to mark dataset failed",
				slog.String("dataset_id", dataset.DatasetID),
				slog.Any("error", statusErr))
		}
		observability.ObserveDatasetIngested("failed")
		p.Logger.ErrorContext(ctx, "dataset ingestion failed",
			slog.String("dataset_id", dataset.DatasetID),
			slog.Any("error", err))
		return err
	}
	observability.ObserveDatasetIngested("success")
	return nil
}

func (p *Processor) run(ctx context.Context, dataset registry.Dataset, csvData io.Reader) error {
	if err := p.Registry.SetDatasetStatus(ctx, dataset.DatasetID, registry.StatusProcessing); err != nil {
		return fmt.Errorf("mark dataset processing: %w", err)
	}

	table, err := SanitizeCSV(csvData)
	if err != nil {
		return fmt.Errorf("sanitize csv: %w", err)
	}
	if len(table.Rows) == 0 {
		return fmt.Errorf("csv contains no data rows")
	}

	parquetBytes, err := EncodeParquet(table)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}

	objectPath, err := storage.BuildDatasetDataPath(dataset.TenantID, dataset.DatasetID)
	if err != nil {
		return err
	}
	if _, err := p.Store.Put(ctx, objectPath, bytes.NewReader(parquetBytes), int64(len(parquetBytes)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		return fmt.Errorf("upload parquet: %w", err)
	}

	rowCount, err := p.validateRowCount(ctx, dataset, objectPath)
	if err != nil {
		return err
	}
	if rowCount != int64(len(table.Rows)) {
		return fmt.Errorf("row count mismatch: wrote %d rows, engine sees %d", len(table.Rows), rowCount)
	}

	if err := p.Registry.FinalizeDataset(ctx, registry.FinalizeDatasetInput{
		DatasetID:  dataset.DatasetID,
		ObjectPath: objectPath,
		RowCount:   rowCount,
		Status:     registry.StatusReady,
	}); err != nil {
		return fmt.Errorf("finalize dataset: %w", err)
	}

	columns := make([]registry.Column, len(table.Columns))
	for i, column := range table.Columns {
		columns[i] = registry.Column{
			DatasetID: dataset.DatasetID,
			Name:      column.Name,
			Type:      column.Type,
			Position:  i,
		}
	}
	if err := p.Indexer.IndexDatasetSchema(ctx, dataset.DatasetID, columns); err != nil {
		return fmt.Errorf("index dataset schema: %w", err)
	}

	p.Logger.InfoContext(ctx, "dataset ingested",
		slog.String("dataset_id", dataset.DatasetID),
		slog.String("tenant_id", dataset.TenantID),
		slog.Int64("rows", rowCount),
		slog.Int("columns", len(columns)))
	return nil
}

// validateRowCount reads the uploaded file back through the engine so a
// dataset is only marked ready once it is actually queryable.
func (p *Processor) validateRowCount(ctx context.Context, dataset registry.Dataset, objectPath string) (int64, error) {
	result, err := p.Engine.Execute(ctx, query.Request{
		SQL: fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", query.VirtualTable),
		File: query.DatasetFile{
			TenantID:   dataset.TenantID,
			DatasetID:  dataset.DatasetID,
			ObjectPath: objectPath,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("validate uploaded parquet: %w", err)
	}
	if len(result.Rows) != 1 || len(result.Rows[0]) != 1 {
		return 0, fmt.Errorf("validate uploaded parquet: unexpected count shape")
	}
	count, ok := result.Rows[0][0].(int64)
	if !ok {
		return 0, fmt.Errorf("validate uploaded parquet: unexpected count type %T", result.Rows[0][0])
	}
	return count, nil
}
