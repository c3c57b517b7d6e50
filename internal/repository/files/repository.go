// Package files persists FileRecord lifecycle state. Two implementations are
// provided: PostgresRepository for production and MemoryRepository for tests
// and local runs.
package files

import (
	"context"

	"github.com/dspopov/fileflow/internal/models"
)

// Repository is the persistence contract for file records. Status setters are
// one-way: they succeed only while the corresponding status is still pending
// and return common.ErrAlreadyTransitioned otherwise. Metadata updates are
// field-scoped merges, never full-record writes.
type Repository interface {
	Create(ctx context.Context, rec *models.FileRecord) error
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error)
	List(ctx context.Context) ([]*models.FileRecord, error)
	SetSecurityStatus(ctx context.Context, id string, status models.SecurityStatus, threatName string) error
	SetProcessingStatus(ctx context.Context, id string, status models.ProcessingStatus) error
	ApplyMetadata(ctx context.Context, id string, patch models.FileMetadata) error
	UpdateTags(ctx context.Context, id string, tags []string) error
}
