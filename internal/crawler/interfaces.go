package crawler

import (
	"context"
	"time"
)

// PageStore persists run and page metadata. Implementations must be safe for
// concurrent use and idempotent on retry: writing the same page id twice
// overwrites rather than duplicates.
type PageStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string) error
	UpdateRunTotals(ctx context.Context, runID string, totalURLs int) error
	WritePage(ctx context.Context, page PageRecord) error
}

// ArtifactStore writes raw content artifacts and returns their paths.
type ArtifactStore interface {
	Write(ctx context.Context, pageID string, kind string, data []byte) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Parser turns a fetched body into structured page data.
type Parser interface {
	Parse(body []byte, contentType string, baseURL string) (ParsedContent, error)
}

// HeadlessDetector decides whether a headless re-fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces page and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
