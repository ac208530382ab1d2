package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataomen/dataomen/internal/registry"
	"github.com/dataomen/dataomen/internal/storage"
)

const defaultUploadMaxBytes = 256 << 20

// processTimeout bounds the background ingestion run for one upload.
const processTimeout = 10 * time.Minute

type datasetResponse struct {
	DatasetID        string    `json:"dataset_id"`
	Name             string    `json:"name"`
	OriginalFilename string    `json:"original_filename"`
	Status           string    `json:"status"`
	RowCount         int64     `json:"row_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toDatasetResponse(dataset registry.Dataset) datasetResponse {
	return datasetResponse{
		DatasetID:        dataset.DatasetID,
		Name:             dataset.Name,
		OriginalFilename: dataset.OriginalFilename,
		Status:           string(dataset.Status),
		RowCount:         dataset.RowCount,
		CreatedAt:        dataset.CreatedAt,
		UpdatedAt:        dataset.UpdatedAt,
	}
}

func handleUploadDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Processor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INGEST_NOT_CONFIGURED", "ingestion dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "ingest_writer"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	maxBytes := deps.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultUploadMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "expected multipart form with a csv file", false, map[string]any{"details": err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "form field \"file\" is required", false, nil)
		return
	}
	defer func() { _ = file.Close() }()

	csvBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UPLOAD_READ_FAILED", "failed to read uploaded file", false, map[string]any{"details": err.Error()})
		return
	}
	if len(csvBytes) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_FILE", "uploaded file is empty", false, nil)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	if name == "" {
		name = "dataset"
	}

	dataset, err := deps.Registry.CreateDataset(r.Context(), registry.CreateDatasetInput{
		DatasetID:        uuid.NewString(),
		TenantID:         tenantID,
		Name:             name,
		OriginalFilename: header.Filename,
	})
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to create dataset")
		return
	}

	stageRawUpload(r.Context(), deps, dataset, csvBytes)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := deps.Processor.Process(ctx, dataset, bytes.NewReader(csvBytes)); err != nil && deps.Logger != nil {
			deps.Logger.Error("background dataset processing failed",
				slog.String("dataset_id", dataset.DatasetID),
				slog.String("tenant_id", dataset.TenantID),
				slog.Any("error", err))
		}
	}()

	writeJSON(w, http.StatusAccepted, toDatasetResponse(dataset))
}

var unsafeFilenamePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// stageRawUpload keeps the original bytes next to the processed file.
// Failures are logged, not fatal: the raw copy is an audit convenience.
func stageRawUpload(ctx context.Context, deps Dependencies, dataset registry.Dataset, csvBytes []byte) {
	if deps.Store == nil {
		return
	}
	filename := unsafeFilenamePattern.ReplaceAllString(filepath.Base(dataset.OriginalFilename), "_")
	filename = strings.Trim(filename, "._-")
	if filename == "" {
		filename = "upload.csv"
	}
	rawPath, err := storage.BuildDatasetRawPath(dataset.TenantID, dataset.DatasetID, filename)
	if err == nil {
		_, err = deps.Store.Put(ctx, rawPath, bytes.NewReader(csvBytes), int64(len(csvBytes)), storage.PutOptions{ContentType: "text/csv"})
	}
	if err != nil && deps.Logger != nil {
		deps.Logger.Warn("failed to stage raw upload",
			slog.String("dataset_id", dataset.DatasetID),
			slog.Any("error", err))
	}
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	datasets, err := deps.Registry.ListDatasets(r.Context(), tenantID)
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to list datasets")
		return
	}
	responses := make([]datasetResponse, len(datasets))
	for i, dataset := range datasets {
		responses[i] = toDatasetResponse(dataset)
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": responses})
}

func handleGetDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	dataset, err := deps.Registry.GetDataset(r.Context(), tenantID, r.PathValue("dataset"))
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to load dataset")
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(dataset))
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "ingest_writer"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	datasetID := r.PathValue("dataset")
	dataset, err := deps.Registry.GetDataset(r.Context(), tenantID, datasetID)
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to load dataset")
		return
	}

	deleted, err := deps.Registry.DeleteDataset(r.Context(), tenantID, datasetID)
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to delete dataset")
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "NOT_FOUND", "dataset not found", false, nil)
		return
	}

	if deps.Store != nil && dataset.ObjectPath != "" {
		if err := deps.Store.Delete(r.Context(), dataset.ObjectPath); err != nil && deps.Logger != nil {
			deps.Logger.Warn("failed to delete dataset object",
				slog.String("dataset_id", datasetID),
				slog.String("object_path", dataset.ObjectPath),
				slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "dataset_id": datasetID})
}

type columnResponse struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	datasetID := r.PathValue("dataset")
	if _, err := deps.Registry.GetDataset(r.Context(), tenantID, datasetID); err != nil {
		writeRegistryError(r.Context(), w, err, "failed to load dataset")
		return
	}

	columns, err := deps.Registry.ListColumns(r.Context(), datasetID)
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to list columns")
		return
	}
	responses := make([]columnResponse, len(columns))
	for i, column := range columns {
		responses[i] = columnResponse{
			Name:        column.Name,
			Type:        column.Type,
			Description: column.Description,
			Position:    column.Position,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset_id": datasetID, "columns": responses})
}

type patchColumnRequest struct {
	Description string `json:"description"`
}

func handlePatchColumn(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Indexer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INDEXER_NOT_CONFIGURED", "schema indexing is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "ingest_writer"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request patchColumnRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid column patch body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Description) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DESCRIPTION_REQUIRED", "description is required", false, nil)
		return
	}

	datasetID := r.PathValue("dataset")
	if _, err := deps.Registry.GetDataset(r.Context(), tenantID, datasetID); err != nil {
		writeRegistryError(r.Context(), w, err, "failed to load dataset")
		return
	}

	column, err := deps.Indexer.ReindexColumn(r.Context(), datasetID, r.PathValue("column"), request.Description)
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to update column")
		return
	}
	writeJSON(w, http.StatusOK, columnResponse{
		Name:        column.Name,
		Type:        column.Type,
		Description: column.Description,
		Position:    column.Position,
	})
}
