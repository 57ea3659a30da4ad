package constants

import (
	"time"
)

// Run directory layout
const (
	// SheetFileName - sample sheet written by the instrument software
	SheetFileName = "SampleSheet.csv"

	// InstrumentCompleteMarker - written by the instrument when it has finished the run
	InstrumentCompleteMarker = "CompletedJobInfo.xml"

	// SequenceSubdir - where the instrument puts demultiplexed reads, relative to the run
	// Discovery falls back to the run directory itself when this does not exist.
	SequenceSubdir = "Data/Intensities/BaseCalls"

	// SequenceFileSuffix - sequence files considered for a sample
	SequenceFileSuffix = ".fastq.gz"

	// MaxDiscoveryDepth - root plus its immediate children
	MaxDiscoveryDepth = 2
)

// Local bookkeeping files (inside each run directory)
const (
	// ResumeFileName - JSON resume record of a partially uploaded run
	ResumeFileName = ".uploaderInfo"

	// CompleteMarkerName - empty file marking a fully uploaded run
	// Discovery and the watcher skip directories that contain it.
	CompleteMarkerName = ".uploaderComplete"

	// LockFileName - advisory lock held while a process uploads the run
	LockFileName = ".uploaderInfo.lock"

	// StateFilePerm - resume records may carry server identifiers, keep them private
	StateFilePerm = 0600
)

// Watcher
const (
	// DefaultPollInterval - how often the watcher scans its root (30 seconds)
	DefaultPollInterval = 30 * time.Second

	// MinPollInterval - lower bound accepted from configuration
	MinPollInterval = 5 * time.Second

	// FsnotifySettleDelay - wait after a filesystem event before scanning,
	// so the instrument can finish writing the marker
	FsnotifySettleDelay = 2 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000
)

// UI Updates
const (
	// ProgressUpdateInterval - refresh interval of the progress bars (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// ProgressBufferSize - read size used while streaming sequence files (256 KB)
	ProgressBufferSize = 256 * 1024
)

// CLI Concurrency Limits
const (
	// DefaultMaxConcurrentRuns - runs uploaded at once by `upload` with several directories
	DefaultMaxConcurrentRuns = 2

	// MaxMaxConcurrentRuns - upper bound for --concurrency
	MaxMaxConcurrentRuns = 8
)

// API and Context Timeouts
const (
	// APIContextTimeout - default timeout for JSON API operations (30 seconds)
	APIContextTimeout = 30 * time.Second

	// APIConnectionTestTimeout - timeout for testing API connectivity (10 seconds)
	APIConnectionTestTimeout = 10 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPResponseHeaderTimeout - wait for headers after a sequence upload body is sent (10 minutes)
	// The server checksums large pairs before answering.
	HTTPResponseHeaderTimeout = 10 * time.Minute
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient JSON API errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (1 second)
	RetryInitialDelay = 1 * time.Second

	// RetryMaxDelay - maximum delay between retries (30 seconds)
	RetryMaxDelay = 30 * time.Second
)

// Log file rotation
const (
	LogMaxSizeMB  = 10
	LogMaxBackups = 5
	LogMaxAgeDays = 30
)
