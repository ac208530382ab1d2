package salesgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

type UploadOptions struct {
	BaseURL  string
	APIKey   string
	TenantID string
	Name     string
}

// Upload posts the generated CSV to the dataset endpoint and returns
// the dataset ID the server assigned.
func Upload(ctx context.Context, client *http.Client, opts UploadOptions, csvBytes []byte) (string, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return "", fmt.Errorf("api base url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	name := opts.Name
	if name == "" {
		name = "demo-sales"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name+".csv")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(csvBytes); err != nil {
		return "", err
	}
	if err := writer.WriteField("name", name); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(opts.BaseURL, "/") + "/v1/datasets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if opts.APIKey != "" {
		req.Header.Set("X-API-Key", opts.APIKey)
	}
	if opts.TenantID != "" {
		req.Header.Set("X-Tenant-ID", opts.TenantID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var response struct {
		DatasetID string `json:"dataset_id"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return response.DatasetID, nil
}
