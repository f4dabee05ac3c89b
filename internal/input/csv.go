// Package input loads seed URLs from user-supplied CSV files.
package input

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/crawler"
)

// LoadSeeds reads a CSV file of seed URLs: first column URL, optional second
// column description. A header row is detected and skipped, as are blank
// lines and lines starting with '#'. Invalid URLs are logged and dropped;
// duplicates keep their first occurrence.
func LoadSeeds(path string, logger *zap.Logger) ([]crawler.SeedEntry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	seeds, err := parseSeeds(f, logger)
	if err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return seeds, nil
}

func parseSeeds(r io.Reader, logger *zap.Logger) ([]crawler.SeedEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var seeds []crawler.SeedEntry
	seen := make(map[string]struct{})
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}

		rawURL := strings.TrimSpace(record[0])
		if rawURL == "" {
			continue
		}
		if first {
			first = false
			if looksLikeHeader(rawURL) {
				continue
			}
		}

		if !crawler.IsFetchable(rawURL) {
			logger.Warn("skipping invalid seed url", zap.String("url", rawURL))
			continue
		}
		normalized, err := crawler.NormalizeURL(rawURL)
		if err != nil {
			logger.Warn("skipping unparseable seed url", zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if _, dup := seen[normalized]; dup {
			logger.Debug("skipping duplicate seed url", zap.String("url", rawURL))
			continue
		}
		seen[normalized] = struct{}{}

		entry := crawler.SeedEntry{URL: normalized}
		if len(record) > 1 {
			entry.Description = strings.TrimSpace(record[1])
		}
		seeds = append(seeds, entry)
	}
	return seeds, nil
}

// looksLikeHeader treats a first row whose URL column is not a URL as a
// header, e.g. "url,description".
func looksLikeHeader(field string) bool {
	lower := strings.ToLower(field)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return false
	}
	switch lower {
	case "url", "link", "address", "seed":
		return true
	}
	return !strings.Contains(lower, "://")
}
