// Package analyzer wraps the text/label extraction services behind one
// interface. Calls take a blob key (the services read straight from object
// storage) and are fallible and rate-limited; callers decide how failures
// map onto the queue's retry machinery.
package analyzer

import (
	"context"

	"github.com/dspopov/fileflow/internal/models"
)

// Analyzer is the extraction-service contract used by the metadata worker.
type Analyzer interface {
	// DetectLabels returns up to maxLabels object/concept labels detected in
	// an image, each with a confidence percentage.
	DetectLabels(ctx context.Context, blobKey string, maxLabels int) ([]models.Label, error)

	// DetectTextLines returns lines of text found inside an image.
	DetectTextLines(ctx context.Context, blobKey string) ([]string, error)

	// DetectDocumentText returns a document's text line by line plus its
	// page count.
	DetectDocumentText(ctx context.Context, blobKey string) (lines []string, pages int, err error)

	// DetectDocumentStructure returns the form key/value pairs and tables
	// recognized in a document.
	DetectDocumentStructure(ctx context.Context, blobKey string) (map[string]string, []models.Table, error)
}
