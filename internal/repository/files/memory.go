package files

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/models"
)

// MemoryRepository is an in-memory Repository used in tests and local runs.
// Records are kept in arrival order.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*models.FileRecord
	order   []string
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*models.FileRecord)}
}

func (r *MemoryRepository) Create(_ context.Context, rec *models.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("duplicate file id: %s", rec.ID)
	}
	clone := *rec
	clone.SecurityStatus = models.SecurityPending
	clone.ProcessingStatus = models.ProcessingPending
	r.records[rec.ID] = &clone
	r.order = append(r.order, rec.ID)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.FileRecord
	for _, id := range r.order {
		if rec := r.records[id]; rec.OwnerID == ownerID {
			clone := *rec
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*models.FileRecord, 0, len(r.order))
	for _, id := range r.order {
		clone := *r.records[id]
		result = append(result, &clone)
	}
	return result, nil
}

func (r *MemoryRepository) SetSecurityStatus(_ context.Context, id string, status models.SecurityStatus, threatName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return common.ErrNotFound
	}
	if rec.SecurityStatus != models.SecurityPending {
		return common.ErrAlreadyTransitioned
	}
	rec.SecurityStatus = status
	rec.ThreatName = threatName
	return nil
}

func (r *MemoryRepository) SetProcessingStatus(_ context.Context, id string, status models.ProcessingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return common.ErrNotFound
	}
	if rec.ProcessingStatus != models.ProcessingPending {
		return common.ErrAlreadyTransitioned
	}
	rec.ProcessingStatus = status
	return nil
}

// ApplyMetadata merges the set fields of patch into the stored metadata.
// Marshaling the patch drops unset fields, so unmarshaling onto the stored
// document overwrites exactly the keys the caller provided, matching the
// jsonb merge the Postgres implementation performs.
func (r *MemoryRepository) ApplyMetadata(_ context.Context, id string, patch models.FileMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return common.ErrNotFound
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := json.Unmarshal(b, &rec.Metadata); err != nil {
		return fmt.Errorf("failed to merge metadata: %w", err)
	}
	return nil
}

func (r *MemoryRepository) UpdateTags(_ context.Context, id string, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.Tags = append([]string(nil), tags...)
	return nil
}
