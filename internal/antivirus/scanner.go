// Package antivirus wraps the malware-scanning engine behind a small
// interface. The engine scans a downloaded local file; its signature
// database is refreshed independently of any single scan.
package antivirus

import (
	"context"
	"time"
)

// Result is the parsed engine verdict for one file.
type Result struct {
	Infected   bool
	ThreatName string
}

// Scanner is the engine contract the security gate depends on.
type Scanner interface {
	// Scan inspects the file at path. An error means the scan itself could
	// not run, not that the file is infected.
	Scan(ctx context.Context, path string) (Result, error)

	// RefreshDatabase updates the signature database. Failure is non-fatal
	// to scanning; callers log it and proceed with the existing database.
	RefreshDatabase(ctx context.Context) error

	// DatabaseAge reports how stale the signature database is.
	DatabaseAge() (time.Duration, error)
}
