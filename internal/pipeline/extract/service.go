// Package extract is the metadata extraction worker: it dispatches a clean
// file to a content-category handler, normalizes the analyzer's output into
// the record's metadata bag and completes the processing status.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"

	"github.com/dspopov/fileflow/internal/analyzer"
	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/repository/files"
)

const (
	maxStoredTextChars    = 1000
	maxImageLabels        = 20
	minCategoryConfidence = 90
)

// Fixed keyword sets for the shallow categories. Deep content parsing for
// office formats is deliberately out of scope.
var (
	spreadsheetKeywords  = []string{"spreadsheet", "data", "table"}
	presentationKeywords = []string{"presentation", "slides"}
)

var extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fileflow_extractions_total",
	Help: "Extraction outcomes by content category.",
}, []string{"category", "outcome"})

// Service implements the metadata extraction worker.
type Service struct {
	repo            files.Repository
	analyzer        analyzer.Analyzer
	maxReceiveCount int
	log             logging.Logger
}

func NewService(repo files.Repository, az analyzer.Analyzer, maxReceiveCount int, log logging.Logger) *Service {
	return &Service{
		repo:            repo,
		analyzer:        az,
		maxReceiveCount: maxReceiveCount,
		log:             log.With("stage", "extract"),
	}
}

// Handle extracts metadata for one file. receiveCount is the delivery count
// of the triggering message, used to decide when the retry budget is spent:
// at that point the record is marked failed and the message dead-lettered
// instead of retried again.
func (s *Service) Handle(ctx context.Context, msg models.PipelineMessage, receiveCount int) error {
	log := s.log.With("fileId", msg.FileID)

	rec, err := s.repo.GetByID(ctx, msg.FileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.Permanent("record not found for extraction", err)
		}
		return common.Transient(err)
	}

	// Extraction is gated strictly behind a clean verdict.
	switch rec.SecurityStatus {
	case models.SecurityInfected:
		log.Warn(ctx, "dropping extraction for infected file")
		return nil
	case models.SecurityPending:
		return common.Transient(fmt.Errorf("security verdict still pending for %s", msg.FileID))
	}

	if rec.ProcessingStatus != models.ProcessingPending {
		log.Info(ctx, "extraction already finished, skipping", "status", rec.ProcessingStatus)
		return nil
	}

	category := models.CategoryForMime(rec.MimeType)
	patch, err := s.extract(ctx, rec, category, log)
	if err != nil {
		extractionsTotal.WithLabelValues(string(category), "error").Inc()
		return s.classifyFailure(ctx, rec, receiveCount, err, log)
	}

	if err := s.repo.ApplyMetadata(ctx, rec.ID, *patch); err != nil {
		return common.Transient(err)
	}
	if err := s.repo.SetProcessingStatus(ctx, rec.ID, models.ProcessingCompleted); err != nil {
		if !errors.Is(err, common.ErrAlreadyTransitioned) {
			return common.Transient(err)
		}
	}
	extractionsTotal.WithLabelValues(string(category), "completed").Inc()
	log.Info(ctx, "metadata extracted", "category", category)
	return nil
}

func (s *Service) extract(ctx context.Context, rec *models.FileRecord, category models.ContentCategory, log logging.Logger) (*models.FileMetadata, error) {
	switch category {
	case models.CategoryImage:
		return s.extractImage(ctx, rec, log)
	case models.CategoryDocument:
		return s.extractDocument(ctx, rec, log)
	case models.CategorySpreadsheet:
		return &models.FileMetadata{
			ContentCategory: models.CategorySpreadsheet,
			Keywords:        spreadsheetKeywords,
		}, nil
	case models.CategoryPresentation:
		return &models.FileMetadata{
			ContentCategory: models.CategoryPresentation,
			Keywords:        presentationKeywords,
		}, nil
	default:
		return &models.FileMetadata{ContentCategory: models.CategoryOther}, nil
	}
}

func (s *Service) extractImage(ctx context.Context, rec *models.FileRecord, log logging.Logger) (*models.FileMetadata, error) {
	var labels []models.Label
	err := s.withBackoff(ctx, func(ctx context.Context) error {
		var err error
		labels, err = s.analyzer.DetectLabels(ctx, rec.BlobKey, maxImageLabels)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Label detection succeeded, so the blob is readable. A text detection
	// failure past this point yields a partial result rather than a retry
	// of the whole extraction.
	textLines, err := s.analyzer.DetectTextLines(ctx, rec.BlobKey)
	if err != nil {
		log.Warn(ctx, "in-image text detection failed, storing labels only", "error", err)
		textLines = nil
	}

	labelNames := make([]string, 0, len(labels))
	var categories []string
	for _, l := range labels {
		labelNames = append(labelNames, l.Name)
		if l.Confidence > minCategoryConfidence {
			categories = append(categories, l.Name)
		}
	}

	text := capText(strings.Join(textLines, "\n"))
	return &models.FileMetadata{
		ContentCategory: models.CategoryImage,
		ExtractedText:   text,
		Entities:        entitiesFromText(strings.Join(textLines, "\n")),
		Categories:      categories,
		Keywords:        keywordsFromLabels(labelNames, textLines),
		Image: &models.ImageAnalysis{
			Labels:       labels,
			TextLines:    textLines,
			ContainsText: len(textLines) > 0,
		},
	}, nil
}

func (s *Service) extractDocument(ctx context.Context, rec *models.FileRecord, log logging.Logger) (*models.FileMetadata, error) {
	var (
		lines []string
		pages int
	)
	err := s.withBackoff(ctx, func(ctx context.Context) error {
		var err error
		lines, pages, err = s.analyzer.DetectDocumentText(ctx, rec.BlobKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Text detection succeeded, so the blob is readable. A structure
	// analysis failure past this point yields a partial result rather than
	// a retry of the whole extraction.
	pairs, tables, err := s.analyzer.DetectDocumentStructure(ctx, rec.BlobKey)
	if err != nil {
		log.Warn(ctx, "document structure analysis failed, storing text only", "error", err)
		pairs, tables = nil, nil
	}

	fullText := strings.Join(lines, "\n")
	docType := inferDocumentType(typeHints(fullText, pairs))
	return &models.FileMetadata{
		ContentCategory: models.CategoryDocument,
		ExtractedText:   capText(fullText),
		Entities:        entitiesFromText(fullText),
		Categories:      []string{docType},
		Keywords:        keywordsFromText(fullText),
		Document: &models.DocumentAnalysis{
			PageCount:     pages,
			DocumentType:  docType,
			KeyValuePairs: pairs,
			Tables:        tables,
		},
	}, nil
}

// typeHints widens document type inference to the recognized form fields: a
// form labeled "Invoice Number" marks an invoice even when the body text
// never says so.
func typeHints(text string, pairs map[string]string) string {
	if len(pairs) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	for k, v := range pairs {
		sb.WriteString("\n")
		sb.WriteString(k)
		sb.WriteString(" ")
		sb.WriteString(v)
	}
	return sb.String()
}

// withBackoff retries transient analyzer failures in-process before handing
// the message back to the queue. Unreadable blobs are not retried.
func (s *Service) withBackoff(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(250*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, common.ErrBlobUnreadable) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// classifyFailure maps an extraction failure onto the retry machinery: an
// unreadable blob or a spent retry budget marks the record failed and
// dead-letters the message; anything else is left for redelivery.
func (s *Service) classifyFailure(ctx context.Context, rec *models.FileRecord, receiveCount int, cause error, log logging.Logger) error {
	if errors.Is(cause, common.ErrBlobUnreadable) {
		s.markFailed(ctx, rec.ID, log)
		return common.Permanent("blob unreadable", cause)
	}
	if receiveCount >= s.maxReceiveCount {
		log.Error(ctx, "retry budget exhausted, marking extraction failed",
			"receiveCount", receiveCount, "error", cause)
		s.markFailed(ctx, rec.ID, log)
		return common.Permanent("retry budget exhausted", cause)
	}
	return common.Transient(cause)
}

func (s *Service) markFailed(ctx context.Context, id string, log logging.Logger) {
	if err := s.repo.SetProcessingStatus(ctx, id, models.ProcessingFailed); err != nil && !errors.Is(err, common.ErrAlreadyTransitioned) {
		log.Error(ctx, "failed to record extraction failure", "error", err)
	}
}

// capText bounds the stored text to maxStoredTextChars characters. The cut
// must land on a rune boundary or the JSON merge would mangle the tail.
func capText(text string) string {
	if len(text) <= maxStoredTextChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxStoredTextChars {
		return text
	}
	return string(runes[:maxStoredTextChars])
}

// inferDocumentType guesses a coarse document type from its text.
func inferDocumentType(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "invoice"):
		return "invoice"
	case strings.Contains(t, "receipt"):
		return "receipt"
	case strings.Contains(t, "contract"), strings.Contains(t, "agreement"):
		return "contract"
	case strings.Contains(t, "resume"), strings.Contains(t, "curriculum vitae"):
		return "resume"
	default:
		return "document"
	}
}
