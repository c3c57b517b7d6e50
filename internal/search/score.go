package search

import (
	"regexp"
	"strings"

	"github.com/dspopov/fileflow/internal/models"
)

var termSplit = regexp.MustCompile(`\s+`)

// relevanceScore is a weighted sum over the record's fields. The exact query
// as a whole weighs more than its individual terms; filename beats tags and
// categories, which beat body text. An empty query scores every record the
// same so the caller's ordering survives.
func relevanceScore(rec *models.FileRecord, query string) float64 {
	if query == "" {
		return 1.0
	}

	score := 0.0
	q := strings.ToLower(query)
	terms := termSplit.Split(q, -1)

	name := strings.ToLower(rec.Name)
	if strings.Contains(name, q) {
		score += 10.0
	}
	for _, term := range terms {
		if strings.Contains(name, term) {
			score += 5.0
		}
	}

	for _, tag := range rec.Tags {
		t := strings.ToLower(tag)
		if strings.Contains(t, q) {
			score += 3.0
		}
		for _, term := range terms {
			if strings.Contains(t, term) {
				score += 1.5
			}
		}
	}

	for _, category := range rec.Metadata.Categories {
		c := strings.ToLower(category)
		if strings.Contains(c, q) {
			score += 3.0
		}
		for _, term := range terms {
			if strings.Contains(c, term) {
				score += 1.5
			}
		}
	}

	if rec.Metadata.ExtractedText != "" {
		text := strings.ToLower(rec.Metadata.ExtractedText)
		score += float64(strings.Count(text, q)) * 2.0
		for _, term := range terms {
			score += float64(strings.Count(text, term)) * 0.5
		}
	}

	for _, entity := range rec.Metadata.Entities {
		e := strings.ToLower(entity.Text)
		if strings.Contains(e, q) {
			score += 2.0
		}
		for _, term := range terms {
			if strings.Contains(e, term) {
				score += 1.0
			}
		}
	}

	return score
}
