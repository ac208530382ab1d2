// Package semantic maintains the embedding index over dataset schemas
// and retrieves the columns most relevant to a natural-language question.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dataomen/dataomen/internal/registry"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SchemaStore is the slice of the registry the router needs. The
// postgres repository satisfies it; MemoryIndex provides a store for
// tests and single-node setups without pgvector.
type SchemaStore interface {
	UpsertColumn(ctx context.Context, column registry.Column) error
	GetColumn(ctx context.Context, datasetID, columnName string) (registry.Column, error)
	ListColumns(ctx context.Context, datasetID string) ([]registry.Column, error)
	SearchColumns(ctx context.Context, datasetID string, embedding []float32, topK int) ([]registry.Column, error)
}

type Router struct {
	store    SchemaStore
	embedder Embedder
	topK     int
	logger   *slog.Logger
}

func NewRouter(store SchemaStore, embedder Embedder, topK int, logger *slog.Logger) *Router {
	if topK <= 0 {
		topK = 10
	}
	return &Router{
		store:    store,
		embedder: embedder,
		topK:     topK,
		logger:   logger.With(slog.String("component", "semantic")),
	}
}

// EmbedText renders a column into the canonical text the embedding model
// sees. Indexing and description updates must agree on this format or
// re-embedded columns drift away from their neighbours.
func EmbedText(column registry.Column) string {
	description := column.Description
	if description == "" {
		description = "none"
	}
	return fmt.Sprintf("Column: %s | Type: %s | Context: %s", column.Name, column.Type, description)
}

// IndexDatasetSchema embeds every column of a dataset and upserts the
// vectors. Running it again for the same dataset replaces the previous
// index instead of duplicating entries.
func (r *Router) IndexDatasetSchema(ctx context.Context, datasetID string, columns []registry.Column) error {
	if len(columns) == 0 {
		return nil
	}

	texts := make([]string, len(columns))
	for i, column := range columns {
		texts[i] = EmbedText(column)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed schema for dataset %s: %w", datasetID, err)
	}

	for i, column := range columns {
		column.DatasetID = datasetID
		column.Embedding = vectors[i]
		if err := r.store.UpsertColumn(ctx, column); err != nil {
			return fmt.Errorf("index column %s: %w", column.Name, err)
		}
	}

	r.logger.Info("indexed dataset schema",
		slog.String("dataset_id", datasetID),
		slog.Int("columns", len(columns)))
	return nil
}

// ReindexColumn stores a new description for one column and recomputes
// its embedding so retrieval reflects the edit immediately.
func (r *Router) ReindexColumn(ctx context.Context, datasetID, columnName, description string) (registry.Column, error) {
	column, err := r.store.GetColumn(ctx, datasetID, columnName)
	if err != nil {
		return registry.Column{}, err
	}

	column.Description = description
	vector, err := r.embedder.Embed(ctx, EmbedText(column))
	if err != nil {
		return registry.Column{}, fmt.Errorf("embed column %s: %w", columnName, err)
	}
	column.Embedding = vector

	if err := r.store.UpsertColumn(ctx, column); err != nil {
		return registry.Column{}, fmt.Errorf("reindex column %s: %w", columnName, err)
	}
	return column, nil
}

// RetrieveRelevantSchema returns at most topK indexed columns of the
// dataset ranked by similarity to the question. Only columns that exist
// in the index can come back, so downstream prompts never see invented
// schema.
func (r *Router) RetrieveRelevantSchema(ctx context.Context, datasetID, question string) ([]registry.Column, error) {
	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	columns, err := r.store.SearchColumns(ctx, datasetID, vector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("search columns for dataset %s: %w", datasetID, err)
	}
	return columns, nil
}

// RenderSchemaContext formats retrieved columns as the schema block a
// compiler prompt embeds.
func RenderSchemaContext(columns []registry.Column) string {
	var sb strings.Builder
	for _, column := range columns {
		sb.WriteString("- ")
		sb.WriteString(column.Name)
		sb.WriteString(" (")
		sb.WriteString(column.Type)
		sb.WriteString(")")
		if column.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(column.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
