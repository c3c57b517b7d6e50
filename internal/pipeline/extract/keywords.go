package extract

import (
	"regexp"
	"sort"
	"strings"
)

const (
	maxKeywords     = 50
	minKeywordLen   = 4
	maxKeywordLines = 10
)

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// stopWords are too common to rank. Only words longer than three characters
// can become keywords, so shorter stop words need no entry here.
var stopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "were": {},
	"your": {}, "will": {}, "been": {}, "they": {}, "their": {}, "them": {},
	"then": {}, "than": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"there": {}, "here": {}, "would": {}, "could": {}, "should": {},
	"about": {}, "into": {}, "over": {}, "under": {}, "also": {},
	"such": {}, "some": {}, "more": {}, "most": {}, "other": {}, "only": {},
	"each": {}, "these": {}, "those": {}, "very": {}, "upon": {},
}

// keywordsFromText frequency-ranks the words of text: lowercase letter runs
// longer than three characters, stop words stripped, ties broken by first
// occurrence so the result is deterministic.
func keywordsFromText(text string) []string {
	type wordCount struct {
		word  string
		count int
		first int
	}
	counts := make(map[string]*wordCount)
	var order []*wordCount
	for i, raw := range wordPattern.FindAllString(text, -1) {
		w := strings.ToLower(raw)
		if len(w) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if wc, ok := counts[w]; ok {
			wc.count++
			continue
		}
		wc := &wordCount{word: w, count: 1, first: i}
		counts[w] = wc
		order = append(order, wc)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	result := make([]string, 0, len(order))
	for _, wc := range order {
		if len(result) == maxKeywords {
			break
		}
		result = append(result, wc.word)
	}
	return result
}

// keywordsFromLabels merges image label names with the first few detected
// text lines, deduplicated case-insensitively in input order.
func keywordsFromLabels(labels []string, textLines []string) []string {
	if len(textLines) > maxKeywordLines {
		textLines = textLines[:maxKeywordLines]
	}
	seen := make(map[string]struct{})
	var result []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		k := strings.ToLower(s)
		if _, dup := seen[k]; dup {
			return
		}
		if len(result) == maxKeywords {
			return
		}
		seen[k] = struct{}{}
		result = append(result, s)
	}
	for _, l := range labels {
		add(l)
	}
	for _, line := range textLines {
		add(line)
	}
	return result
}
