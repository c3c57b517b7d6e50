package antivirus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSignatureScanner_Clean(t *testing.T) {
	s := NewSignatureScanner(map[string]string{"VIRUS": "Test-Signature"})

	res, err := s.Scan(context.Background(), writeTemp(t, "perfectly ordinary file"))
	require.NoError(t, err)
	assert.False(t, res.Infected)
	assert.Empty(t, res.ThreatName)
}

func TestSignatureScanner_Infected(t *testing.T) {
	s := NewSignatureScanner(map[string]string{"VIRUS": "Test-Signature"})

	res, err := s.Scan(context.Background(), writeTemp(t, "VIRUS payload here"))
	require.NoError(t, err)
	assert.True(t, res.Infected)
	assert.Equal(t, "Test-Signature", res.ThreatName)
}

func TestSignatureScanner_SignatureBeyondWindowIgnored(t *testing.T) {
	s := NewSignatureScanner(map[string]string{"VIRUS": "Test-Signature"})

	content := make([]byte, signatureScanWindow)
	for i := range content {
		content[i] = 'a'
	}
	path := writeTemp(t, string(content)+"VIRUS")

	res, err := s.Scan(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.Infected)
}

func TestSignatureScanner_MissingFile(t *testing.T) {
	s := NewSignatureScanner(nil)
	_, err := s.Scan(context.Background(), "/does/not/exist")
	assert.Error(t, err)
}

func TestSignatureScanner_RefreshResetsAge(t *testing.T) {
	s := NewSignatureScanner(nil)
	require.NoError(t, s.RefreshDatabase(context.Background()))

	age, err := s.DatabaseAge()
	require.NoError(t, err)
	assert.Less(t, age, time.Minute)
}

func TestParseThreatName(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"/tmp/x: Eicar-Test-Signature FOUND", "Eicar-Test-Signature"},
		{"warming up\n/tmp/y: Win.Trojan.Agent-123 FOUND\n", "Win.Trojan.Agent-123"},
		{"no findings here", "Unknown threat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseThreatName(tt.output))
	}
}
