package antivirus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// clamscan exit codes: 0 clean, 1 virus found, 2+ errors.
const clamscanExitInfected = 1

// ClamAV runs the clamscan binary against local files and freshclam to
// refresh the signature database.
type ClamAV struct {
	scanBin    string
	refreshBin string
	dbPath     string
}

func NewClamAV(dbPath string) *ClamAV {
	return &ClamAV{
		scanBin:    "clamscan",
		refreshBin: "freshclam",
		dbPath:     dbPath,
	}
}

func (c *ClamAV) Scan(ctx context.Context, path string) (Result, error) {
	cmd := exec.CommandContext(ctx, c.scanBin, "--database="+c.dbPath, "--no-summary", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return Result{}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == clamscanExitInfected {
		return Result{Infected: true, ThreatName: parseThreatName(out.String())}, nil
	}
	return Result{}, fmt.Errorf("clamscan %s: %w: %s", path, err, strings.TrimSpace(out.String()))
}

// parseThreatName extracts the signature name from a line of the form
// "/tmp/x: Eicar-Test-Signature FOUND".
func parseThreatName(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if i := strings.LastIndex(line, ": "); i >= 0 {
			return line[i+2:]
		}
	}
	return "Unknown threat"
}

func (c *ClamAV) RefreshDatabase(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.refreshBin, "--datadir="+c.dbPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("freshclam: %w: %s", err, strings.TrimSpace(out.String()))
	}
	return nil
}

func (c *ClamAV) DatabaseAge() (time.Duration, error) {
	info, err := os.Stat(c.dbPath)
	if err != nil {
		return 0, fmt.Errorf("stat virus db: %w", err)
	}
	return time.Since(info.ModTime()), nil
}
