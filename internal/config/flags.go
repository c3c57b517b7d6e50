package config

import (
	"flag"
	"os"
	"time"

	"github.com/dspopov/fileflow/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-q string   quarantine key prefix
//	-v string   virus signature database path
//	-a int      virus database max age, hours
//	-w int      worker concurrency per stage
//	-m int      max receive count before dead-letter
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Queue URLs
// and the notification topic are JSON-only settings.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-u", "-p", "-b", "-g", "-e", "-q", "-v", "-a", "-w", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.QuarantinePrefix, "q", config.QuarantinePrefix, "quarantine key prefix")
	fs.StringVar(&config.VirusDBPath, "v", config.VirusDBPath, "virus signature database path")

	virusDBMaxAge := fs.Int("a", int(config.VirusDBMaxAge.Hours()), "virus database max age (in hours)")

	fs.IntVar(&config.WorkerConcurrency, "w", config.WorkerConcurrency, "worker concurrency per stage")
	fs.IntVar(&config.MaxReceiveCount, "m", config.MaxReceiveCount, "max receive count before dead-letter")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.VirusDBMaxAge = time.Duration(*virusDBMaxAge) * time.Hour
}
