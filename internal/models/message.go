package models

import (
	"encoding/json"
	"fmt"
)

// Operation names the unit of work a PipelineMessage requests.
type Operation string

const (
	OpScan     Operation = "scan"
	OpExtract  Operation = "extract-metadata"
	OpClassify Operation = "classify"
)

// PipelineMessage is the transient, queue-carried unit of work. It is never
// persisted outside the queue; idempotency is derived from FileID alone since
// the same message may be delivered more than once.
type PipelineMessage struct {
	FileID    string    `json:"fileId"`
	BlobKey   string    `json:"blobKey"`
	Operation Operation `json:"operation"`
}

// Encode marshals the message for the queue substrate.
func (m PipelineMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodePipelineMessage parses a queue body and validates required fields.
// A failure here is permanent: retrying the same body cannot help.
func DecodePipelineMessage(body []byte) (PipelineMessage, error) {
	var m PipelineMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return PipelineMessage{}, fmt.Errorf("malformed message body: %w", err)
	}
	if m.FileID == "" {
		return PipelineMessage{}, fmt.Errorf("message missing fileId")
	}
	if m.Operation == "" {
		return PipelineMessage{}, fmt.Errorf("message missing operation")
	}
	return m, nil
}
