package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dspopov/fileflow/internal/flagx"
	"github.com/dspopov/fileflow/internal/timex"
)

// JsonConfig is the JSON-file shape of Config. Interval fields use
// timex.Duration, which accepts both string values such as "24h" and integer
// nanoseconds. After unmarshalling, values are copied into the runtime
// Config struct.
type JsonConfig struct {
	DatabaseDSN string `json:"database_dsn"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	QuarantinePrefix string `json:"quarantine_prefix"`

	ScanQueueURL       string `json:"scan_queue_url"`
	ExtractQueueURL    string `json:"extract_queue_url"`
	RouteQueueURL      string `json:"route_queue_url"`
	ClassifyQueueURL   string `json:"classify_queue_url"`
	DeadLetterQueueURL string `json:"dead_letter_queue_url"`

	NotificationTopicARN string `json:"notification_topic_arn"`

	MaxFileSize int64 `json:"max_file_size"`
	MaxScanSize int64 `json:"max_scan_size"`

	VirusDBPath   string         `json:"virus_db_path"`
	VirusDBMaxAge timex.Duration `json:"virus_db_max_age"`

	VisibilityTimeout timex.Duration `json:"visibility_timeout"`
	MaxReceiveCount   int            `json:"max_receive_count"`
	WorkerConcurrency int            `json:"worker_concurrency"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config. The file path comes from the -c/-config flags; when neither is
// set, no JSON file is loaded. Unreadable or invalid files panic: a config
// file that was asked for but cannot be used is a startup error.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.QuarantinePrefix = c.QuarantinePrefix
	config.ScanQueueURL = c.ScanQueueURL
	config.ExtractQueueURL = c.ExtractQueueURL
	config.RouteQueueURL = c.RouteQueueURL
	config.ClassifyQueueURL = c.ClassifyQueueURL
	config.DeadLetterQueueURL = c.DeadLetterQueueURL
	config.NotificationTopicARN = c.NotificationTopicARN
	config.MaxFileSize = c.MaxFileSize
	config.MaxScanSize = c.MaxScanSize
	config.VirusDBPath = c.VirusDBPath
	config.VirusDBMaxAge = time.Duration(c.VirusDBMaxAge.Duration)
	config.VisibilityTimeout = time.Duration(c.VisibilityTimeout.Duration)
	config.MaxReceiveCount = c.MaxReceiveCount
	config.WorkerConcurrency = c.WorkerConcurrency
}
