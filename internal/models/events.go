package models

import (
	"io"
	"time"
)

// Event is the closed set of triggers a pipeline stage can react to. Each
// stage accepts exactly one variant through a typed entry point; there is no
// generic "any event" handler.
type Event interface {
	isEvent()
}

// IntakeEvent carries a user-submitted file into the intake stage.
type IntakeEvent struct {
	OwnerID  string
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// ScanNotification tells the security gate that a blob landed in storage.
type ScanNotification struct {
	FileID  string
	BlobKey string
}

// ScheduleTick triggers time-based maintenance, such as a signature
// database refresh.
type ScheduleTick struct {
	At time.Time
}

func (IntakeEvent) isEvent()      {}
func (ScanNotification) isEvent() {}
func (PipelineMessage) isEvent()  {}
func (ScheduleTick) isEvent()     {}
