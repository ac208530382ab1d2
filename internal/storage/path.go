package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDatasetDataPath returns the object key for a dataset's processed
// Parquet file. Keys are always prefixed with the owning tenant so storage
// pathing is itself a tenant boundary.
func BuildDatasetDataPath(tenantID, datasetID string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(datasetID, "dataset id"); err != nil {
		return "", err
	}
	return path.Join(tenantID, datasetID, "data.parquet"), nil
}

// BuildDatasetRawPath returns the object key for the raw uploaded file staged
// ahead of sanitation.
func BuildDatasetRawPath(tenantID, datasetID, filename string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(datasetID, "dataset id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(filename, "filename"); err != nil {
		return "", err
	}
	return path.Join(tenantID, datasetID, "raw", filename), nil
}

// TenantOwnsPath reports whether an object key sits under the tenant's prefix.
func TenantOwnsPath(tenantID, objectPath string) bool {
	if validatePathComponent(tenantID, "tenant id") != nil {
		return false
	}
	cleaned := path.Clean(objectPath)
	return cleaned == tenantID || len(cleaned) > len(tenantID)+1 &&
		cleaned[:len(tenantID)+1] == tenantID+"/"
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
