package dataomenctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("dataomenctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "Dataomen API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var requestBody any
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "datasets":
		method, path = http.MethodGet, "/v1/datasets"
	case "schema":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "usage: dataomenctl schema <dataset-id>")
			return 2
		}
		method, path = http.MethodGet, "/v1/datasets/"+url.PathEscape(fs.Arg(1))+"/schema"
	case "ask":
		if fs.NArg() < 3 {
			_, _ = fmt.Fprintln(stderr, "usage: dataomenctl ask <dataset-id> <question>")
			return 2
		}
		method, path = http.MethodPost, "/v1/datasets/"+url.PathEscape(fs.Arg(1))+"/question"
		requestBody = map[string]any{
			"question":       strings.Join(fs.Args()[2:], " "),
			"with_narrative": true,
		}
	case "dashboard":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "usage: dataomenctl dashboard <dataset-id>")
			return 2
		}
		method, path = http.MethodPost, "/v1/datasets/"+url.PathEscape(fs.Arg(1))+"/dashboard"
	case "monitors":
		method, path = http.MethodGet, "/v1/monitors"
	case "scan":
		method, path = http.MethodPost, "/v1/anomalies/scan"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, *tenantID, requestBody)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, tenantID string, requestBody any) (int, []byte, error) {
	var payload io.Reader
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return 0, nil, err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(tenantID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: dataomenctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets                    GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  schema <dataset-id>         GET /v1/datasets/{id}/schema")
	_, _ = fmt.Fprintln(w, "  ask <dataset-id> <question> POST /v1/datasets/{id}/question")
	_, _ = fmt.Fprintln(w, "  dashboard <dataset-id>      POST /v1/datasets/{id}/dashboard")
	_, _ = fmt.Fprintln(w, "  monitors                    GET /v1/monitors")
	_, _ = fmt.Fprintln(w, "  scan                        POST /v1/anomalies/scan")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
