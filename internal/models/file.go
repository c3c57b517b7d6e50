// Package models defines the data persisted and carried by the pipeline:
// the FileRecord lifecycle document, its extracted-metadata structures, and
// the queue-borne PipelineMessage.
package models

import (
	"strings"
	"time"
)

// SecurityStatus is the verdict of the security gate. It starts Pending and
// transitions exactly once to Clean or Infected, terminal thereafter.
type SecurityStatus string

const (
	SecurityPending  SecurityStatus = "pending"
	SecurityClean    SecurityStatus = "clean"
	SecurityInfected SecurityStatus = "infected"
)

// ProcessingStatus tracks metadata extraction. Failed is set only after the
// retry budget is exhausted.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
)

// ContentCategory is the coarse classification driving extraction dispatch.
type ContentCategory string

const (
	CategoryImage        ContentCategory = "image"
	CategoryDocument     ContentCategory = "document"
	CategorySpreadsheet  ContentCategory = "spreadsheet"
	CategoryPresentation ContentCategory = "presentation"
	CategoryOther        ContentCategory = "other"
)

// EntityType classifies a pattern-extracted entity.
type EntityType string

const (
	EntityEmail EntityType = "EMAIL"
	EntityDate  EntityType = "DATE"
	EntityPhone EntityType = "PHONE_NUMBER"
	EntityURL   EntityType = "URL"
)

// Entity is a piece of text recognized in extracted content.
type Entity struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// Label is an object or concept detected in an image, with the engine's
// confidence in percent.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ImageAnalysis holds image-specific extraction results.
type ImageAnalysis struct {
	Labels       []Label  `json:"labels,omitempty"`
	TextLines    []string `json:"textLines,omitempty"`
	ContainsText bool     `json:"containsText"`
}

// Table is a table recognized inside a document.
type Table struct {
	ID         string     `json:"id"`
	PageNumber int        `json:"pageNumber"`
	Headers    []string   `json:"headers,omitempty"`
	Rows       [][]string `json:"rows,omitempty"`
}

// DocumentAnalysis holds document-specific extraction results.
type DocumentAnalysis struct {
	PageCount     int               `json:"pageCount,omitempty"`
	DocumentType  string            `json:"documentType,omitempty"`
	KeyValuePairs map[string]string `json:"keyValuePairs,omitempty"`
	Tables        []Table           `json:"tables,omitempty"`
}

// FileMetadata is the loosely-typed bag of extracted content. Every field is
// optional; updates are additive/overwriting per field, never read-modify-write.
type FileMetadata struct {
	ContentCategory ContentCategory   `json:"contentCategory,omitempty"`
	ExtractedText   string            `json:"extractedText,omitempty"`
	Entities        []Entity          `json:"entities,omitempty"`
	Categories      []string          `json:"categories,omitempty"`
	Keywords        []string          `json:"keywords,omitempty"`
	Image           *ImageAnalysis    `json:"image,omitempty"`
	Document        *DocumentAnalysis `json:"document,omitempty"`
}

// FileRecord is the single source of truth for a file's lifecycle. Identity
// and blob facts are immutable after intake; statuses and metadata are
// mutated by the pipeline via field-scoped partial updates.
type FileRecord struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	BlobKey  string `json:"blobKey"`

	UploadedAt time.Time `json:"uploadedAt"`

	SecurityStatus SecurityStatus `json:"securityStatus"`
	// ThreatName is set only when SecurityStatus is infected.
	ThreatName string `json:"threatName,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processingStatus"`

	Metadata FileMetadata `json:"metadata"`
	Tags     []string     `json:"tags,omitempty"`
}

// CategoryForMime maps a declared MIME type to its content category.
func CategoryForMime(mimeType string) ContentCategory {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case mimeType == "application/pdf",
		mimeType == "application/msword",
		strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument.wordprocessingml"),
		mimeType == "application/vnd.oasis.opendocument.text",
		mimeType == "application/rtf",
		mimeType == "text/plain",
		mimeType == "text/csv",
		mimeType == "text/html":
		return CategoryDocument
	case mimeType == "application/vnd.ms-excel",
		strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument.spreadsheetml"),
		mimeType == "application/vnd.oasis.opendocument.spreadsheet":
		return CategorySpreadsheet
	case mimeType == "application/vnd.ms-powerpoint",
		strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument.presentationml"),
		mimeType == "application/vnd.oasis.opendocument.presentation":
		return CategoryPresentation
	default:
		return CategoryOther
	}
}
