package storage

import "testing"

func TestBuildDatasetDataPath(t *testing.T) {
	key, err := BuildDatasetDataPath("tenant-1", "ds-42")
	if err != nil {
		t.Fatalf("BuildDatasetDataPath() error = %v", err)
	}
	want := "tenant-1/ds-42/data.parquet"
	if key != want {
		t.Fatalf("BuildDatasetDataPath() = %q, want %q", key, want)
	}
}

func TestBuildDatasetRawPath(t *testing.T) {
	key, err := BuildDatasetRawPath("tenant-1", "ds-42", "q3_spend.csv")
	if err != nil {
		t.Fatalf("BuildDatasetRawPath() error = %v", err)
	}
	want := "tenant-1/ds-42/raw/q3_spend.csv"
	if key != want {
		t.Fatalf("BuildDatasetRawPath() = %q, want %q", key, want)
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildDatasetDataPath("../oops", "ds-1"); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := BuildDatasetRawPath("tenant-1", "ds 1", "f.csv"); err == nil {
		t.Fatal("expected invalid component error")
	}
}

func TestTenantOwnsPath(t *testing.T) {
	cases := []struct {
		tenant string
		path   string
		want   bool
	}{
		{"tenant-1", "tenant-1/ds-1/data.parquet", true},
		{"tenant-1", "tenant-2/ds-1/data.parquet", false},
		{"tenant-1", "tenant-10/ds-1/data.parquet", false},
		{"tenant-1", "tenant-2/../tenant-1/ds-1/data.parquet", true},
	}
	for _, tc := range cases {
		if got := TenantOwnsPath(tc.tenant, tc.path); got != tc.want {
			t.Fatalf("TenantOwnsPath(%q, %q) = %v, want %v", tc.tenant, tc.path, got, tc.want)
		}
	}
}
