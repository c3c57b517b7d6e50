// Package route decides which extracted files continue to the external
// document classification service. The router is stateless: it re-reads the
// record, applies the eligibility rule and forwards or drops. Duplicate
// forwards are tolerated downstream, so re-running is always safe.
package route

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/queue"
	"github.com/dspopov/fileflow/internal/repository/files"
)

var routedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fileflow_routed_total",
	Help: "Routing decisions (forwarded, dropped).",
}, []string{"decision"})

// Service implements the classification router.
type Service struct {
	repo          files.Repository
	classifyQueue queue.Queue
	log           logging.Logger
}

func NewService(repo files.Repository, classifyQueue queue.Queue, log logging.Logger) *Service {
	return &Service{
		repo:          repo,
		classifyQueue: classifyQueue,
		log:           log.With("stage", "route"),
	}
}

// Handle routes one file. Eligible records are forwarded to the
// classification queue; ineligible ones are dropped without error once
// extraction has settled.
func (s *Service) Handle(ctx context.Context, msg models.PipelineMessage) error {
	rec, err := s.repo.GetByID(ctx, msg.FileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.Permanent("record not found for routing", err)
		}
		return common.Transient(err)
	}

	if !eligible(rec) {
		// The routing message can arrive before extraction has written
		// anything. Text extracted later may still make the file eligible,
		// so the decision waits for extraction to settle.
		if rec.ProcessingStatus == models.ProcessingPending {
			return common.Transient(fmt.Errorf("extraction still pending for %s", rec.ID))
		}
		routedTotal.WithLabelValues("dropped").Inc()
		s.log.Debug(ctx, "file not eligible for classification", "fileId", rec.ID)
		return nil
	}

	body, err := models.PipelineMessage{
		FileID:    rec.ID,
		BlobKey:   rec.BlobKey,
		Operation: models.OpClassify,
	}.Encode()
	if err != nil {
		return common.Permanent("failed to encode classify message", err)
	}
	if err := s.classifyQueue.Send(ctx, body); err != nil {
		return common.Transient(err)
	}
	routedTotal.WithLabelValues("forwarded").Inc()
	s.log.Info(ctx, "file forwarded for classification", "fileId", rec.ID)
	return nil
}

// eligible reports whether a file qualifies for document classification: a
// textual content category, or any extracted text at all. When extraction
// has not populated a category yet, the MIME-derived one decides.
func eligible(rec *models.FileRecord) bool {
	category := rec.Metadata.ContentCategory
	if category == "" {
		category = models.CategoryForMime(rec.MimeType)
	}
	switch category {
	case models.CategoryDocument, models.CategorySpreadsheet, models.CategoryPresentation:
		return true
	}
	return rec.Metadata.ExtractedText != ""
}
