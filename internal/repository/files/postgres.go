package files

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/dbx"
	"github.com/dspopov/fileflow/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
// Metadata and tags are stored as jsonb; partial metadata updates use the
// jsonb concatenation operator so concurrent stages never clobber each other's
// fields.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, owner_id, name, size, mime_type, blob_key, uploaded_at,
		security_status, COALESCE(threat_name, ''), processing_status, metadata, tags`

// Create inserts a new record. Security and processing statuses default to
// pending regardless of what the caller set on rec.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.FileRecord) error {
	query := `
		INSERT INTO files (id, owner_id, name, size, mime_type, blob_key, uploaded_at, metadata, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tags, err := marshalTags(rec.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Name, rec.Size, rec.MimeType, rec.BlobKey, rec.UploadedAt, meta, tags)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the record for id, or common.ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE id=$1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return rec, nil
}

// ListByOwner returns all records for ownerID in arrival order.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM files WHERE owner_id=$1 ORDER BY seq`
	return r.selectMany(ctx, query, ownerID)
}

// List returns all records in arrival order.
func (r *PostgresRepository) List(ctx context.Context) ([]*models.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM files ORDER BY seq`
	return r.selectMany(ctx, query)
}

func (r *PostgresRepository) selectMany(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetSecurityStatus transitions security_status away from pending. The WHERE
// clause makes the transition one-way: a record already marked clean or
// infected is left untouched and ErrAlreadyTransitioned is returned, so a
// redelivered scan message cannot downgrade a verdict.
func (r *PostgresRepository) SetSecurityStatus(ctx context.Context, id string, status models.SecurityStatus, threatName string) error {
	query := `UPDATE files SET security_status=$2, threat_name=NULLIF($3, '')
		WHERE id=$1 AND security_status='pending'`
	res, err := r.db.ExecContext(ctx, query, id, string(status), threatName)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOr(res, common.ErrAlreadyTransitioned)
}

// SetProcessingStatus transitions processing_status away from pending, with
// the same one-way guarantee as SetSecurityStatus.
func (r *PostgresRepository) SetProcessingStatus(ctx context.Context, id string, status models.ProcessingStatus) error {
	query := `UPDATE files SET processing_status=$2
		WHERE id=$1 AND processing_status='pending'`
	res, err := r.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOr(res, common.ErrAlreadyTransitioned)
}

// ApplyMetadata merges patch into the record's metadata document. Only fields
// set on patch are serialized, so the jsonb merge touches exactly those keys.
func (r *PostgresRepository) ApplyMetadata(ctx context.Context, id string, patch models.FileMetadata) error {
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	query := `UPDATE files SET metadata = metadata || $2::jsonb WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, id, b)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOr(res, common.ErrNotFound)
}

// UpdateTags replaces the record's tag list.
func (r *PostgresRepository) UpdateTags(ctx context.Context, id string, tags []string) error {
	b, err := marshalTags(tags)
	if err != nil {
		return err
	}
	query := `UPDATE files SET tags = $2::jsonb WHERE id=$1`
	res, err := r.db.ExecContext(ctx, query, id, b)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOr(res, common.ErrNotFound)
}

func oneRowOr(res sql.Result, zeroErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return zeroErr
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.FileRecord, error) {
	var (
		rec  models.FileRecord
		meta []byte
		tags []byte
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.Size, &rec.MimeType, &rec.BlobKey, &rec.UploadedAt,
		&rec.SecurityStatus, &rec.ThreatName, &rec.ProcessingStatus, &meta, &tags)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(tags, &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return &rec, nil
}
