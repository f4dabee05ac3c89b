// Package crawler defines core types shared across the crawl engine.
package crawler

import (
	"net/http"
	"time"
)

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted in the page store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the metadata persisted once per crawl invocation.
type Run struct {
	ID        string
	InputFile string
	Status    RunStatus
	MaxDepth  int
	TotalURLs int
	ErrorText string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SeedEntry is one input URL with optional free-form description.
type SeedEntry struct {
	URL         string
	Description string
}

// FrontierEntry is a unit of pending work. Created by the lineage tracker or
// initial seeding, consumed exactly once by a worker.
type FrontierEntry struct {
	URL          string
	ParentID     string
	Depth        int
	DiscoveredAt time.Time
}

// Artifact kinds written per successfully fetched page.
const (
	ArtifactRaw      = "raw.html"
	ArtifactBody     = "body.txt"
	ArtifactHeaders  = "headers.txt"
	ArtifactMetadata = "metadata.txt"
)

// ArtifactPaths lists where a page's content artifacts were written.
type ArtifactPaths struct {
	Raw      string
	Body     string
	Headers  string
	Metadata string
}

// PageRecord is persisted when a fetch attempt terminates, whether by success
// or final failure. Immutable after WritePage except for retry bookkeeping.
type PageRecord struct {
	ID              string
	RunID           string
	URL             string
	ParentID        string
	Domain          string
	StatusCode      int
	Depth           int
	Title           string
	MetaDescription string
	ContentType     string
	ContentLength   int
	ContentHash     string
	RetryCount      int
	LastError       string
	ScrapedAt       time.Time
	Artifacts       ArtifactPaths
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Depth   int
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Elapsed      time.Duration
	UsedHeadless bool
}

// ParsedContent is what a Parser extracts from a fetched body.
type ParsedContent struct {
	Title           string
	MetaDescription string
	Headings        map[string][]string
	TextPreview     string
	Links           []string
	ContentHash     string
}

// PerformanceMode is a closed enumeration of concurrency presets.
type PerformanceMode string

// Supported performance modes.
const (
	ModeConservative PerformanceMode = "conservative"
	ModeBalanced     PerformanceMode = "balanced"
	ModeAggressive   PerformanceMode = "aggressive"
	ModeMaximum      PerformanceMode = "maximum"
)

// ModeSettings is the concrete tuple a performance mode maps to. Pool sizes
// are fixed at run start and never mutated mid-run.
type ModeSettings struct {
	Workers        int
	Connections    int
	ClientCount    int
	RateDelay      time.Duration
	RequestTimeout time.Duration
	StatsInterval  time.Duration
}

var modeSettings = map[PerformanceMode]ModeSettings{
	ModeConservative: {Workers: 10, Connections: 20, ClientCount: 1, RateDelay: time.Second, RequestTimeout: 30 * time.Second, StatsInterval: 60 * time.Second},
	ModeBalanced:     {Workers: 20, Connections: 60, ClientCount: 2, RateDelay: 500 * time.Millisecond, RequestTimeout: 30 * time.Second, StatsInterval: 30 * time.Second},
	ModeAggressive:   {Workers: 50, Connections: 200, ClientCount: 6, RateDelay: 200 * time.Millisecond, RequestTimeout: 20 * time.Second, StatsInterval: 15 * time.Second},
	ModeMaximum:      {Workers: 100, Connections: 500, ClientCount: 16, RateDelay: 100 * time.Millisecond, RequestTimeout: 15 * time.Second, StatsInterval: 10 * time.Second},
}

// SettingsForMode resolves a performance mode to its tuple. Unknown modes
// fall back to balanced.
func SettingsForMode(mode PerformanceMode) ModeSettings {
	if s, ok := modeSettings[mode]; ok {
		return s
	}
	return modeSettings[ModeBalanced]
}

// ValidMode reports whether mode names a known preset.
func ValidMode(mode PerformanceMode) bool {
	_, ok := modeSettings[mode]
	return ok
}
