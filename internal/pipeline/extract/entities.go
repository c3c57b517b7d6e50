package extract

import (
	"regexp"

	"github.com/dspopov/fileflow/internal/models"
)

const maxEntities = 20

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9]{10,12}`)
	urlPattern   = regexp.MustCompile(`https?://[\w.-]+(?:\.[\w.-]+)+[\w\-._~:/?#@!$&'()*+,;=]*`)
	datePattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)
)

// entitiesFromText runs lightweight pattern matching over text. Matches are
// deduplicated by their literal text and the total is capped; emails and
// URLs are high-confidence patterns, dates and phone numbers less so.
func entitiesFromText(text string) []models.Entity {
	seen := make(map[string]struct{})
	var result []models.Entity
	add := func(match string, typ models.EntityType, confidence float64) {
		if len(result) == maxEntities {
			return
		}
		if _, dup := seen[match]; dup {
			return
		}
		seen[match] = struct{}{}
		result = append(result, models.Entity{Text: match, Type: typ, Confidence: confidence})
	}

	for _, m := range emailPattern.FindAllString(text, -1) {
		add(m, models.EntityEmail, 0.9)
	}
	for _, m := range urlPattern.FindAllString(text, -1) {
		add(m, models.EntityURL, 0.9)
	}
	for _, m := range phonePattern.FindAllString(text, -1) {
		add(m, models.EntityPhone, 0.8)
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		add(m, models.EntityDate, 0.7)
	}
	return result
}
