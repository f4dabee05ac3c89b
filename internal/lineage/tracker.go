// Package lineage turns fetch outcomes into persisted page records and admits
// the discovered children, maintaining the parent-child crawl forest.
package lineage

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/crawler"
	"github.com/contentcollector/collector/internal/frontier"
)

// Tracker is the single writer of page records and lineage edges. A child URL
// admitted here carries the page id of its first discoverer as ParentID;
// later discoverers lose the race inside Frontier.Admit and add no edge.
type Tracker struct {
	runID     string
	store     crawler.PageStore
	artifacts crawler.ArtifactStore
	front     *frontier.Frontier
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger
	stats     *Stats
}

// New wires a tracker for one run.
func New(
	runID string,
	store crawler.PageStore,
	artifacts crawler.ArtifactStore,
	front *frontier.Frontier,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
	stats *Stats,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Tracker{
		runID:     runID,
		store:     store,
		artifacts: artifacts,
		front:     front,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		stats:     stats,
	}
}

// Stats exposes the run counters.
func (t *Tracker) Stats() *Stats { return t.stats }

// RecordSuccess persists a fetched page: artifacts first, then the page row,
// then child admissions. retries is the number of failed attempts that
// preceded the success.
func (t *Tracker) RecordSuccess(
	ctx context.Context,
	entry crawler.FrontierEntry,
	resp crawler.FetchResponse,
	content crawler.ParsedContent,
	retries int,
) (crawler.PageRecord, error) {
	pageID, err := t.ids.NewID()
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("generate page id: %w", err)
	}

	record := crawler.PageRecord{
		ID:              pageID,
		RunID:           t.runID,
		URL:             entry.URL,
		ParentID:        entry.ParentID,
		Domain:          crawler.Domain(entry.URL),
		StatusCode:      resp.StatusCode,
		Depth:           entry.Depth,
		Title:           content.Title,
		MetaDescription: content.MetaDescription,
		ContentType:     resp.Headers.Get("Content-Type"),
		ContentLength:   len(resp.Body),
		ContentHash:     content.ContentHash,
		RetryCount:      retries,
		ScrapedAt:       t.clock.Now(),
	}

	paths, err := t.writeArtifacts(ctx, pageID, resp, content, record)
	if err != nil {
		return crawler.PageRecord{}, err
	}
	record.Artifacts = paths

	if err := t.store.WritePage(ctx, record); err != nil {
		return crawler.PageRecord{}, fmt.Errorf("write page %s: %w", entry.URL, err)
	}

	t.stats.AddSucceeded()
	t.stats.AddBytes(int64(len(resp.Body)))
	t.admitChildren(ctx, pageID, entry, content.Links)
	return record, nil
}

// RecordFailure persists a terminal failure. No artifacts are written and no
// children are admitted.
func (t *Tracker) RecordFailure(
	ctx context.Context,
	entry crawler.FrontierEntry,
	statusCode int,
	lastError string,
	retries int,
) (crawler.PageRecord, error) {
	pageID, err := t.ids.NewID()
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("generate page id: %w", err)
	}

	record := crawler.PageRecord{
		ID:         pageID,
		RunID:      t.runID,
		URL:        entry.URL,
		ParentID:   entry.ParentID,
		Domain:     crawler.Domain(entry.URL),
		StatusCode: statusCode,
		Depth:      entry.Depth,
		RetryCount: retries,
		LastError:  lastError,
		ScrapedAt:  t.clock.Now(),
	}

	if err := t.store.WritePage(ctx, record); err != nil {
		return crawler.PageRecord{}, fmt.Errorf("write failed page %s: %w", entry.URL, err)
	}
	t.stats.AddFailed()
	return record, nil
}

func (t *Tracker) admitChildren(ctx context.Context, parentID string, parent crawler.FrontierEntry, links []string) {
	for _, link := range links {
		child := crawler.FrontierEntry{
			URL:          link,
			ParentID:     parentID,
			Depth:        parent.Depth + 1,
			DiscoveredAt: t.clock.Now(),
		}
		reason, err := t.front.Admit(ctx, child)
		if err != nil {
			t.logger.Debug("child admit aborted", zap.String("url", link), zap.Error(err))
			return
		}
		if reason != frontier.RejectNone {
			t.stats.AddRejected()
			t.logger.Debug("child rejected",
				zap.String("url", link),
				zap.String("reason", string(reason)),
			)
		}
	}
}

func (t *Tracker) writeArtifacts(
	ctx context.Context,
	pageID string,
	resp crawler.FetchResponse,
	content crawler.ParsedContent,
	record crawler.PageRecord,
) (crawler.ArtifactPaths, error) {
	var paths crawler.ArtifactPaths

	raw, err := t.artifacts.Write(ctx, pageID, crawler.ArtifactRaw, resp.Body)
	if err != nil {
		return paths, fmt.Errorf("write raw artifact: %w", err)
	}
	body, err := t.artifacts.Write(ctx, pageID, crawler.ArtifactBody, []byte(content.TextPreview))
	if err != nil {
		return paths, fmt.Errorf("write body artifact: %w", err)
	}
	headers, err := t.artifacts.Write(ctx, pageID, crawler.ArtifactHeaders, formatHeaders(resp.Headers))
	if err != nil {
		return paths, fmt.Errorf("write headers artifact: %w", err)
	}
	meta, err := t.artifacts.Write(ctx, pageID, crawler.ArtifactMetadata, formatMetadata(record, resp))
	if err != nil {
		return paths, fmt.Errorf("write metadata artifact: %w", err)
	}

	paths = crawler.ArtifactPaths{Raw: raw, Body: body, Headers: headers, Metadata: meta}
	return paths, nil
}

func formatHeaders(h http.Header) []byte {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return []byte(b.String())
}

func formatMetadata(record crawler.PageRecord, resp crawler.FetchResponse) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "url: %s\n", record.URL)
	fmt.Fprintf(&b, "final_url: %s\n", resp.URL)
	fmt.Fprintf(&b, "status_code: %d\n", record.StatusCode)
	fmt.Fprintf(&b, "content_type: %s\n", record.ContentType)
	fmt.Fprintf(&b, "content_length: %d\n", record.ContentLength)
	fmt.Fprintf(&b, "content_hash: %s\n", record.ContentHash)
	fmt.Fprintf(&b, "depth: %d\n", record.Depth)
	fmt.Fprintf(&b, "title: %s\n", record.Title)
	fmt.Fprintf(&b, "scraped_at: %s\n", record.ScrapedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "used_headless: %t\n", resp.UsedHeadless)
	return []byte(b.String())
}
