package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dataomen/dataomen/internal/demo/salesgen"
)

func main() {
	seed := flag.Int64("seed", 42, "random seed")
	days := flag.Int("days", 90, "number of days to generate")
	spikeDay := flag.Int("spike-day", 0, "inject a revenue spike on this day (0 disables)")
	spikeFactor := flag.Float64("spike-factor", 1.6, "spike multiplier")
	out := flag.String("out", "-", "output file, or - for stdout")
	upload := flag.Bool("upload", false, "upload the dataset instead of writing it")
	baseURL := flag.String("base-url", envOr("DATAOMEN_API_URL", "http://localhost:8080"), "Dataomen API base URL")
	apiKey := flag.String("api-key", os.Getenv("DATAOMEN_API_KEY"), "API key for authenticated requests")
	tenantID := flag.String("tenant-id", os.Getenv("DATAOMEN_TENANT_ID"), "Tenant ID header")
	name := flag.String("name", "demo-sales", "dataset name for uploads")
	flag.Parse()

	generator := salesgen.NewGenerator(salesgen.Config{
		Seed:        *seed,
		Days:        *days,
		SpikeDay:    *spikeDay,
		SpikeFactor: *spikeFactor,
	})

	var buf bytes.Buffer
	if err := generator.WriteCSV(&buf); err != nil {
		fmt.Fprintf(os.Stderr, "generate csv: %v\n", err)
		os.Exit(1)
	}

	if *upload {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		datasetID, err := salesgen.Upload(ctx, &http.Client{Timeout: 60 * time.Second}, salesgen.UploadOptions{
			BaseURL:  *baseURL,
			APIKey:   *apiKey,
			TenantID: *tenantID,
			Name:     *name,
		}, buf.Bytes())
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("uploaded dataset %s\n", datasetID)
		return
	}

	if *out == "-" {
		if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
