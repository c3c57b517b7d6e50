package files

import (
	"context"
	"testing"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, r *MemoryRepository, id, owner string) {
	t.Helper()
	require.NoError(t, r.Create(context.Background(), &models.FileRecord{
		ID: id, OwnerID: owner, Name: id + ".txt", MimeType: "text/plain",
	}))
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seed(t, r, "f1", "u1")

	got, err := r.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.SecurityPending, got.SecurityStatus)
	assert.Equal(t, models.ProcessingPending, got.ProcessingStatus)

	err = r.Create(ctx, &models.FileRecord{ID: "f1"})
	assert.Error(t, err)

	_, err = r.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryRepository_ListPreservesArrivalOrder(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seed(t, r, "f1", "u1")
	seed(t, r, "f2", "u2")
	seed(t, r, "f3", "u1")

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "f1", all[0].ID)
	assert.Equal(t, "f3", all[2].ID)

	mine, err := r.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "f1", mine[0].ID)
	assert.Equal(t, "f3", mine[1].ID)
}

func TestMemoryRepository_SecurityStatusOneWay(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seed(t, r, "f1", "u1")

	require.NoError(t, r.SetSecurityStatus(ctx, "f1", models.SecurityInfected, "Eicar-Test-Signature"))

	err := r.SetSecurityStatus(ctx, "f1", models.SecurityClean, "")
	assert.ErrorIs(t, err, common.ErrAlreadyTransitioned)

	got, err := r.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.SecurityInfected, got.SecurityStatus)
	assert.Equal(t, "Eicar-Test-Signature", got.ThreatName)
}

func TestMemoryRepository_ProcessingStatusOneWay(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seed(t, r, "f1", "u1")

	require.NoError(t, r.SetProcessingStatus(ctx, "f1", models.ProcessingCompleted))
	assert.ErrorIs(t, r.SetProcessingStatus(ctx, "f1", models.ProcessingFailed), common.ErrAlreadyTransitioned)
}

func TestMemoryRepository_ApplyMetadataMergesFields(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seed(t, r, "f1", "u1")

	require.NoError(t, r.ApplyMetadata(ctx, "f1", models.FileMetadata{
		ContentCategory: models.CategoryDocument,
		ExtractedText:   "quarterly numbers",
	}))
	// A second stage writing different fields must not clobber the first.
	require.NoError(t, r.ApplyMetadata(ctx, "f1", models.FileMetadata{
		Keywords: []string{"quarterly", "numbers"},
	}))

	got, err := r.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryDocument, got.Metadata.ContentCategory)
	assert.Equal(t, "quarterly numbers", got.Metadata.ExtractedText)
	assert.Equal(t, []string{"quarterly", "numbers"}, got.Metadata.Keywords)
}

func TestMemoryRepository_UpdateTags(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seed(t, r, "f1", "u1")

	require.NoError(t, r.UpdateTags(ctx, "f1", []string{"quarantine-reviewed"}))
	got, err := r.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"quarantine-reviewed"}, got.Tags)

	assert.ErrorIs(t, r.UpdateTags(ctx, "nope", nil), common.ErrNotFound)
}
