package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/dataomen/dataomen/internal/registry"
)

// MemoryIndex is an in-process SchemaStore. It ranks by cosine distance
// the same way pgvector's <=> operator does, with declaration order as
// the tie-break, so retrieval behaves identically against either store.
type MemoryIndex struct {
	mu      sync.RWMutex
	columns map[string]map[string]registry.Column
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{columns: make(map[string]map[string]registry.Column)}
}

func (m *MemoryIndex) UpsertColumn(_ context.Context, column registry.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dataset, ok := m.columns[column.DatasetID]
	if !ok {
		dataset = make(map[string]registry.Column)
		m.columns[column.DatasetID] = dataset
	}
	dataset[column.Name] = column
	return nil
}

func (m *MemoryIndex) GetColumn(_ context.Context, datasetID, columnName string) (registry.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	column, ok := m.columns[datasetID][columnName]
	if !ok {
		return registry.Column{}, registry.ErrNotFound
	}
	return column, nil
}

func (m *MemoryIndex) ListColumns(_ context.Context, datasetID string) ([]registry.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	columns := make([]registry.Column, 0, len(m.columns[datasetID]))
	for _, column := range m.columns[datasetID] {
		columns = append(columns, column)
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })
	return columns, nil
}

func (m *MemoryIndex) SearchColumns(_ context.Context, datasetID string, embedding []float32, topK int) ([]registry.Column, error) {
	if topK <= 0 {
		topK = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		column   registry.Column
		distance float64
	}
	candidates := make([]scored, 0, len(m.columns[datasetID]))
	for _, column := range m.columns[datasetID] {
		candidates = append(candidates, scored{
			column:   column,
			distance: cosineDistance(embedding, column.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].column.Position < candidates[j].column.Position
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	columns := make([]registry.Column, len(candidates))
	for i, candidate := range candidates {
		columns[i] = candidate.column
	}
	return columns, nil
}

// cosineDistance is 1 - cosine similarity. Vectors with no overlap in
// dimensionality, or a zero norm, rank last.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.MaxFloat64
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.MaxFloat64
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
