// Package intake accepts user-submitted files into the pipeline: it
// validates size, type and name, stores the blob, creates the lifecycle
// record and enqueues the first scan message.
package intake

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/objectstore"
	"github.com/dspopov/fileflow/internal/queue"
	"github.com/dspopov/fileflow/internal/repository/files"
)

var (
	intakeAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_intake_accepted_total",
		Help: "Files accepted by the intake stage.",
	})
	intakeRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileflow_intake_rejected_total",
		Help: "Files rejected at validation, by field.",
	}, []string{"field"})
)

// allowedMimeTypes is the upload allow-list.
var allowedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"application/vnd.ms-powerpoint": {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"text/plain":                   {},
	"text/csv":                     {},
	"text/html":                    {},
	"image/jpeg":                   {},
	"image/png":                    {},
	"image/gif":                    {},
	"image/svg+xml":                {},
	"image/webp":                   {},
	"application/zip":              {},
	"application/x-rar-compressed": {},
}

// suspiciousExtensions are rejected regardless of the declared MIME type.
var suspiciousExtensions = map[string]struct{}{
	"exe": {}, "bat": {}, "cmd": {}, "sh": {}, "js": {}, "vbs": {},
	"ps1": {}, "jar": {}, "msi": {}, "com": {}, "scr": {},
}

var unsafeKeyChars = regexp.MustCompile(`[^\w.-]`)

// UploadTicket reserves a blob key and record id for a direct-to-store
// upload via a presigned URL.
type UploadTicket struct {
	FileID  string
	BlobKey string
	URL     string
}

// Service implements the intake stage.
type Service struct {
	store     objectstore.Store
	presigner objectstore.Presigner
	repo      files.Repository
	scanQueue queue.Queue
	maxSize   int64
	log       logging.Logger

	now   func() time.Time
	newID func() string
}

// NewService builds an intake service. presigner may be nil if direct
// uploads are not offered.
func NewService(store objectstore.Store, presigner objectstore.Presigner, repo files.Repository, scanQueue queue.Queue, maxSize int64, log logging.Logger) *Service {
	return &Service{
		store:     store,
		presigner: presigner,
		repo:      repo,
		scanQueue: scanQueue,
		maxSize:   maxSize,
		log:       log.With("stage", "intake"),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Accept validates the submission, stores the blob, creates the record with
// both statuses pending and enqueues a scan message. Validation failures are
// returned synchronously as *common.ValidationError and nothing is stored.
func (s *Service) Accept(ctx context.Context, ev models.IntakeEvent) (*models.FileRecord, error) {
	if err := s.validate(ev.Name, ev.MimeType, ev.Size); err != nil {
		return nil, err
	}

	id := s.newID()
	key := s.blobKey(id, ev.Name)

	if err := s.store.Put(ctx, key, ev.Content, ev.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}

	rec := &models.FileRecord{
		ID:               id,
		OwnerID:          ev.OwnerID,
		Name:             ev.Name,
		Size:             ev.Size,
		MimeType:         ev.MimeType,
		BlobKey:          key,
		UploadedAt:       s.now().UTC(),
		SecurityStatus:   models.SecurityPending,
		ProcessingStatus: models.ProcessingPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		// The blob is unreachable without a record; best effort cleanup.
		if derr := s.store.Delete(ctx, key); derr != nil {
			s.log.Error(ctx, "orphan blob left after create failure", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	if err := s.enqueueScan(ctx, id, key); err != nil {
		return nil, err
	}

	intakeAccepted.Inc()
	s.log.Info(ctx, "file accepted", "fileId", id, "key", key, "size", ev.Size)
	return rec, nil
}

// PresignUpload validates the declared facts and returns a presigned PUT URL
// with a reserved key, so clients can upload large blobs directly to the
// object store. The record is not created until the upload is confirmed
// through Confirm.
func (s *Service) PresignUpload(ctx context.Context, ownerID, name, mimeType string, size int64) (*UploadTicket, error) {
	if s.presigner == nil {
		return nil, fmt.Errorf("direct uploads not configured")
	}
	if err := s.validate(name, mimeType, size); err != nil {
		return nil, err
	}
	id := s.newID()
	key := s.blobKey(id, name)
	url, err := s.presigner.PresignPut(ctx, key, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return &UploadTicket{FileID: id, BlobKey: key, URL: url}, nil
}

// Confirm finalizes a direct upload: it verifies the blob exists, creates
// the record from the stored object's facts and enqueues the scan.
func (s *Service) Confirm(ctx context.Context, ticket *UploadTicket, ownerID string) (*models.FileRecord, error) {
	info, err := s.store.Head(ctx, ticket.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("uploaded blob not found: %w", err)
	}
	rec := &models.FileRecord{
		ID:               ticket.FileID,
		OwnerID:          ownerID,
		Name:             path.Base(ticket.BlobKey),
		Size:             info.Size,
		MimeType:         info.ContentType,
		BlobKey:          ticket.BlobKey,
		UploadedAt:       s.now().UTC(),
		SecurityStatus:   models.SecurityPending,
		ProcessingStatus: models.ProcessingPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	if err := s.enqueueScan(ctx, rec.ID, rec.BlobKey); err != nil {
		return nil, err
	}
	intakeAccepted.Inc()
	return rec, nil
}

func (s *Service) enqueueScan(ctx context.Context, id, key string) error {
	body, err := models.PipelineMessage{FileID: id, BlobKey: key, Operation: models.OpScan}.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode scan message: %w", err)
	}
	if err := s.scanQueue.Send(ctx, body); err != nil {
		return fmt.Errorf("failed to enqueue scan: %w", err)
	}
	return nil
}

func (s *Service) validate(name, mimeType string, size int64) error {
	reject := func(field, reason string) error {
		intakeRejected.WithLabelValues(field).Inc()
		return &common.ValidationError{Field: field, Reason: reason}
	}
	if name == "" {
		return reject("name", "file name is required")
	}
	if size <= 0 {
		return reject("size", "size must be positive")
	}
	if size > s.maxSize {
		return reject("size", fmt.Sprintf("size %d exceeds maximum %d", size, s.maxSize))
	}
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return reject("mimeType", "file type not allowed: "+mimeType)
	}
	if ext := extension(name); ext != "" {
		if _, bad := suspiciousExtensions[ext]; bad {
			return reject("name", "file extension not allowed: ."+ext)
		}
	}
	return nil
}

// blobKey builds YYYY/MM/DD/<id>/<sanitized-name>. The uuid segment makes
// collisions impossible even for identical names uploaded the same day.
func (s *Service) blobKey(id, name string) string {
	datePrefix := s.now().UTC().Format("2006/01/02")
	safe := unsafeKeyChars.ReplaceAllString(name, "_")
	return datePrefix + "/" + id + "/" + safe
}

func extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
