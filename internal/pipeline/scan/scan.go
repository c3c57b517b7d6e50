// Package scan is the security gate: it downloads a pending blob, runs the
// antivirus engine over it and drives the one-way pending → clean|infected
// transition. Infected blobs are moved into a quarantine namespace and never
// reach metadata extraction.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"

	"github.com/dspopov/fileflow/internal/antivirus"
	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/notify"
	"github.com/dspopov/fileflow/internal/objectstore"
	"github.com/dspopov/fileflow/internal/queue"
	"github.com/dspopov/fileflow/internal/repository/files"
)

var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fileflow_scans_total",
	Help: "Completed scans by verdict (clean, infected, skipped).",
}, []string{"verdict"})

// Service implements the security gate.
type Service struct {
	store        objectstore.Store
	repo         files.Repository
	scanner      antivirus.Scanner
	extractQueue queue.Queue
	routeQueue   queue.Queue
	notifier     notify.Notifier
	log          logging.Logger

	quarantinePrefix string
	maxScanSize      int64
	dbMaxAge         time.Duration

	now func() time.Time
}

// NewService builds the gate. maxScanSize bounds what gets downloaded;
// larger blobs are passed through as clean with a warning. dbMaxAge is the
// signature database staleness threshold.
func NewService(store objectstore.Store, repo files.Repository, scanner antivirus.Scanner,
	extractQueue, routeQueue queue.Queue, notifier notify.Notifier,
	quarantinePrefix string, maxScanSize int64, dbMaxAge time.Duration, log logging.Logger) *Service {
	return &Service{
		store:            store,
		repo:             repo,
		scanner:          scanner,
		extractQueue:     extractQueue,
		routeQueue:       routeQueue,
		notifier:         notifier,
		log:              log.With("stage", "scan"),
		quarantinePrefix: quarantinePrefix,
		maxScanSize:      maxScanSize,
		dbMaxAge:         dbMaxAge,
		now:              time.Now,
	}
}

// HandleNotification adapts a storage-change notification into a scan.
func (s *Service) HandleNotification(ctx context.Context, n models.ScanNotification) error {
	return s.Handle(ctx, models.PipelineMessage{FileID: n.FileID, BlobKey: n.BlobKey, Operation: models.OpScan})
}

// HandleSchedule refreshes the signature database on a timer, independently
// of any scan.
func (s *Service) HandleSchedule(ctx context.Context, tick models.ScheduleTick) error {
	if err := s.scanner.RefreshDatabase(ctx); err != nil {
		return fmt.Errorf("scheduled signature refresh failed: %w", err)
	}
	s.log.Info(ctx, "signature database refreshed", "at", tick.At)
	return nil
}

// Handle scans one file. Redelivery never rescans or re-transitions a record
// that has left pending; at most it resends the downstream messages.
func (s *Service) Handle(ctx context.Context, msg models.PipelineMessage) error {
	log := s.log.With("fileId", msg.FileID)

	rec, err := s.repo.GetByID(ctx, msg.FileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.Permanent("record not found for scan", err)
		}
		return common.Transient(err)
	}
	if rec.SecurityStatus != models.SecurityPending {
		// A redelivery can mean the verdict committed but the fan-out was
		// lost to a queue failure. While extraction has not picked the file
		// up, resend; downstream tolerates duplicates.
		if rec.SecurityStatus == models.SecurityClean && rec.ProcessingStatus == models.ProcessingPending {
			log.Info(ctx, "verdict already recorded, resending downstream messages")
			return s.fanOut(ctx, rec)
		}
		log.Info(ctx, "verdict already recorded, skipping", "status", rec.SecurityStatus)
		return nil
	}

	s.refreshIfStale(ctx, log)

	info, err := s.store.Head(ctx, rec.BlobKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return common.Permanent("blob missing for scan", err)
		}
		return common.Transient(err)
	}
	if info.Size > s.maxScanSize {
		log.Warn(ctx, "blob exceeds scan size cap, passing through unscanned",
			"size", info.Size, "cap", s.maxScanSize)
		scansTotal.WithLabelValues("skipped").Inc()
		return s.markClean(ctx, rec)
	}

	localPath, err := s.download(ctx, rec.BlobKey)
	if err != nil {
		return common.Transient(err)
	}
	defer os.Remove(localPath)

	result, err := s.scanner.Scan(ctx, localPath)
	if err != nil {
		return common.Transient(fmt.Errorf("scan engine failed: %w", err))
	}

	if result.Infected {
		return s.quarantine(ctx, rec, result, log)
	}
	scansTotal.WithLabelValues("clean").Inc()
	return s.markClean(ctx, rec)
}

// refreshIfStale refreshes the signature database when it is older than the
// configured threshold. Refresh failure is degraded operation, not an error:
// scanning proceeds with the existing database.
func (s *Service) refreshIfStale(ctx context.Context, log logging.Logger) {
	age, err := s.scanner.DatabaseAge()
	if err == nil && age <= s.dbMaxAge {
		return
	}
	if err != nil {
		log.Warn(ctx, "signature database age unknown, refreshing", "error", err)
	}
	if err := s.scanner.RefreshDatabase(ctx); err != nil {
		log.Warn(ctx, "signature refresh failed, scanning with stale database", "error", err)
	}
}

// download fetches the blob to a temp file, retrying transient store errors
// with bounded backoff before giving up to the queue's redelivery.
func (s *Service) download(ctx context.Context, key string) (string, error) {
	f, err := os.CreateTemp("", "fileflow-scan-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, err := s.store.Get(ctx, key)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer body.Close()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := io.Copy(f, body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to fetch blob %s: %w", key, err)
	}
	return f.Name(), nil
}

func (s *Service) markClean(ctx context.Context, rec *models.FileRecord) error {
	if err := s.repo.SetSecurityStatus(ctx, rec.ID, models.SecurityClean, ""); err != nil {
		if errors.Is(err, common.ErrAlreadyTransitioned) {
			return nil
		}
		return common.Transient(err)
	}
	return s.fanOut(ctx, rec)
}

// fanOut hands the clean file to metadata extraction and to the
// classification router. Both consume the same message shape.
func (s *Service) fanOut(ctx context.Context, rec *models.FileRecord) error {
	body, err := models.PipelineMessage{
		FileID:    rec.ID,
		BlobKey:   rec.BlobKey,
		Operation: models.OpExtract,
	}.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode extract message: %w", err)
	}
	if err := s.extractQueue.Send(ctx, body); err != nil {
		return common.Transient(fmt.Errorf("failed to enqueue extraction: %w", err))
	}
	if err := s.routeQueue.Send(ctx, body); err != nil {
		return common.Transient(fmt.Errorf("failed to enqueue routing: %w", err))
	}
	return nil
}

// quarantine moves the blob out of its original key into the quarantine
// namespace, records the verdict and alerts. The infected path is terminal:
// nothing further is queued for this file.
func (s *Service) quarantine(ctx context.Context, rec *models.FileRecord, result antivirus.Result, log logging.Logger) error {
	detectedAt := s.now().UTC()
	qKey := fmt.Sprintf("%s/%s/%s", s.quarantinePrefix, detectedAt.Format("20060102"), path.Base(rec.BlobKey))

	meta := map[string]string{
		"original-key": rec.BlobKey,
		"threat-name":  result.ThreatName,
		"detected-at":  detectedAt.Format(time.RFC3339),
	}
	if err := s.store.Copy(ctx, rec.BlobKey, qKey, meta); err != nil {
		return common.Transient(fmt.Errorf("failed to quarantine blob: %w", err))
	}
	if err := s.store.Delete(ctx, rec.BlobKey); err != nil {
		return common.Transient(fmt.Errorf("failed to delete original blob: %w", err))
	}

	if err := s.repo.SetSecurityStatus(ctx, rec.ID, models.SecurityInfected, result.ThreatName); err != nil {
		if !errors.Is(err, common.ErrAlreadyTransitioned) {
			return common.Transient(err)
		}
	}

	scansTotal.WithLabelValues("infected").Inc()
	log.Warn(ctx, "infected file quarantined", "threat", result.ThreatName, "quarantineKey", qKey)

	// Best effort: a failed alert never fails the scan.
	subject := "Infected file quarantined"
	message := fmt.Sprintf("file %s (%s) tested positive for %s and was moved to %s",
		rec.ID, rec.Name, result.ThreatName, qKey)
	if err := s.notifier.Notify(ctx, subject, message); err != nil {
		log.Error(ctx, "failed to send quarantine notification", "error", err)
	}
	return nil
}
