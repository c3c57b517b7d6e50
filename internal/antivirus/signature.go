package antivirus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// signatureScanWindow bounds how much of the file head is inspected.
const signatureScanWindow = 4096

// SignatureScanner matches configured byte signatures against the head of a
// file. It stands in for a full engine in tests and local development.
type SignatureScanner struct {
	mu          sync.RWMutex
	signatures  map[string]string // pattern -> threat name
	refreshedAt time.Time
}

func NewSignatureScanner(signatures map[string]string) *SignatureScanner {
	sigs := make(map[string]string, len(signatures))
	for pattern, name := range signatures {
		sigs[pattern] = name
	}
	return &SignatureScanner{signatures: sigs, refreshedAt: time.Now()}
}

func (s *SignatureScanner) Scan(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, signatureScanWindow)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	head = head[:n]

	s.mu.RLock()
	defer s.mu.RUnlock()
	for pattern, name := range s.signatures {
		if pattern != "" && bytes.Contains(head, []byte(pattern)) {
			return Result{Infected: true, ThreatName: name}, nil
		}
	}
	return Result{}, nil
}

func (s *SignatureScanner) RefreshDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshedAt = time.Now()
	return nil
}

func (s *SignatureScanner) DatabaseAge() (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.refreshedAt), nil
}
