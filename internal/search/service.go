// Package search filters and ranks file records for query-driven retrieval.
// It reads whatever state the record holds at query time and never writes:
// a record still pending its security verdict simply has minimal metadata.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/repository/files"
)

var (
	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_searches_total",
		Help: "Search requests served.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fileflow_search_duration_seconds",
		Help:    "Search request duration.",
		Buckets: prometheus.DefBuckets,
	})
)

// Filters narrow the candidate set before ranking. All fields are optional
// and AND-combined; zero values mean "no restriction".
type Filters struct {
	Tags       []string
	Categories []string
	MimeTypes  []string

	UploadedAfter  time.Time
	UploadedBefore time.Time

	MinSize int64
	MaxSize int64
}

// Service implements search over the metadata store.
type Service struct {
	repo files.Repository
	log  logging.Logger
}

func NewService(repo files.Repository, log logging.Logger) *Service {
	return &Service{repo: repo, log: log.With("stage", "search")}
}

// Search returns ownerID's records that survive the filters, ranked by
// relevance to query. Ties keep arrival order; an empty query keeps arrival
// order for the whole result.
func (s *Service) Search(ctx context.Context, ownerID, query string, filters Filters) ([]*models.FileRecord, error) {
	start := time.Now()
	defer func() {
		searchesTotal.Inc()
		searchDuration.Observe(time.Since(start).Seconds())
	}()

	records, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var survivors []*models.FileRecord
	for _, rec := range records {
		if matches(rec, query, filters) {
			survivors = append(survivors, rec)
		}
	}

	scores := make(map[string]float64, len(survivors))
	for _, rec := range survivors {
		scores[rec.ID] = relevanceScore(rec, query)
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		return scores[survivors[i].ID] > scores[survivors[j].ID]
	})

	s.log.Debug(ctx, "search served", "owner", ownerID, "query", query, "results", len(survivors))
	return survivors, nil
}

func matches(rec *models.FileRecord, query string, f Filters) bool {
	if query != "" {
		q := strings.ToLower(query)
		inName := strings.Contains(strings.ToLower(rec.Name), q)
		inText := strings.Contains(strings.ToLower(rec.Metadata.ExtractedText), q)
		if !inName && !inText {
			return false
		}
	}
	if len(f.Tags) > 0 && !anyMatch(f.Tags, rec.Tags) {
		return false
	}
	if len(f.Categories) > 0 && !anyMatch(f.Categories, rec.Metadata.Categories) {
		return false
	}
	if len(f.MimeTypes) > 0 && !containsFold(f.MimeTypes, rec.MimeType) {
		return false
	}
	if !f.UploadedAfter.IsZero() && rec.UploadedAt.Before(f.UploadedAfter) {
		return false
	}
	if !f.UploadedBefore.IsZero() && rec.UploadedAt.After(f.UploadedBefore) {
		return false
	}
	if f.MinSize > 0 && rec.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && rec.Size > f.MaxSize {
		return false
	}
	return true
}

// anyMatch reports whether any wanted value appears in values,
// case-insensitively.
func anyMatch(wanted, values []string) bool {
	for _, w := range wanted {
		if containsFold(values, w) {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
