package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePipelineMessage(t *testing.T) {
	body := []byte(`{"fileId":"f1","blobKey":"2024/01/05/f1/notes.txt","operation":"extract-metadata"}`)

	m, err := DecodePipelineMessage(body)
	require.NoError(t, err)
	assert.Equal(t, "f1", m.FileID)
	assert.Equal(t, OpExtract, m.Operation)
}

func TestDecodePipelineMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing fileId", `{"blobKey":"k","operation":"scan"}`},
		{"missing operation", `{"fileId":"f1","blobKey":"k"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePipelineMessage([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestPipelineMessage_EncodeRoundTrip(t *testing.T) {
	m := PipelineMessage{FileID: "f1", BlobKey: "k", Operation: OpScan}
	b, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodePipelineMessage(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestCategoryForMime(t *testing.T) {
	tests := []struct {
		mime string
		want ContentCategory
	}{
		{"image/png", CategoryImage},
		{"image/jpeg", CategoryImage},
		{"application/pdf", CategoryDocument},
		{"text/plain", CategoryDocument},
		{"text/csv", CategoryDocument},
		{"application/rtf", CategoryDocument},
		{"text/html", CategoryDocument},
		{"application/vnd.ms-excel", CategorySpreadsheet},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", CategorySpreadsheet},
		{"application/vnd.ms-powerpoint", CategoryPresentation},
		{"application/zip", CategoryOther},
		{"audio/mpeg", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryForMime(tt.mime), tt.mime)
	}
}
