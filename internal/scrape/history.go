package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/character"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/metrics"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/resultstore"
)

const historyKey = "history"

// HistoryResult is the aggregated view of the results tree.
type HistoryResult struct {
	History    []resultstore.Entry `json:"history"`
	Characters []character.Record  `json:"characters"`
}

// History reads the historical results tree, caching the listing between jobs.
type History struct {
	root   string
	cache  *cache.Cache
	logger *zap.Logger
}

// NewHistory builds a History over root. A ttl of zero disables caching.
func NewHistory(root string, ttl time.Duration, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &History{root: root, logger: logger}
	if ttl > 0 {
		h.cache = cache.New(ttl, 2*ttl)
	}
	return h
}

// List returns every readable result file plus the character projection.
// Unreadable files are logged and skipped; an unreadable root is an error.
func (h *History) List(ctx context.Context) (HistoryResult, error) {
	if h.cache != nil {
		if cached, ok := h.cache.Get(historyKey); ok {
			if res, ok := cached.(HistoryResult); ok {
				return res, nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, fmt.Errorf("list history: %w", err)
	}

	entries, skipped, err := resultstore.ReadHistory(h.root)
	if err != nil {
		h.logger.Error("history root unreadable", zap.String("root", h.root), zap.Error(err))
		return HistoryResult{}, fmt.Errorf("list history: %w", err)
	}
	for _, skipErr := range skipped {
		metrics.ObserveHistorySkip()
		h.logger.Warn("skipping unreadable result file", zap.Error(skipErr))
	}
	if entries == nil {
		entries = []resultstore.Entry{}
	}

	res := HistoryResult{History: entries, Characters: h.project(entries)}
	if h.cache != nil {
		h.cache.Set(historyKey, res, cache.DefaultExpiration)
	}
	return res, nil
}

// Invalidate drops the cached listing so the next List rereads disk.
func (h *History) Invalidate() {
	if h.cache != nil {
		h.cache.Delete(historyKey)
	}
}

// Compare looks up two characters by id and lines them up.
func (h *History) Compare(ctx context.Context, ids []string) (character.Comparison, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) != 2 {
		return character.Comparison{}, ErrInvalidComparison
	}

	res, err := h.List(ctx)
	if err != nil {
		return character.Comparison{}, err
	}
	byID := make(map[string]character.Record, len(res.Characters))
	for _, rec := range res.Characters {
		byID[rec.ID] = rec
	}
	left, ok := byID[cleaned[0]]
	if !ok {
		return character.Comparison{}, fmt.Errorf("%w: %s", ErrCharacterNotFound, cleaned[0])
	}
	right, ok := byID[cleaned[1]]
	if !ok {
		return character.Comparison{}, fmt.Errorf("%w: %s", ErrCharacterNotFound, cleaned[1])
	}
	return character.Compare(left, right), nil
}

// project maps every history item onto a character record. Later files win
// when two records share an id.
func (h *History) project(entries []resultstore.Entry) []character.Record {
	records := []character.Record{}
	index := map[string]int{}
	for _, entry := range entries {
		var doc any
		if err := jsoniter.Unmarshal(entry.Data, &doc); err != nil {
			continue
		}
		for _, raw := range character.Items(doc) {
			rec := character.FromRaw(raw, entry.Category)
			if err := rec.Validate(); err != nil {
				h.logger.Debug("dropping character record",
					zap.String("category", entry.Category),
					zap.String("file", entry.File),
					zap.Error(err),
				)
				continue
			}
			if i, seen := index[rec.ID]; seen {
				records[i] = rec
				continue
			}
			index[rec.ID] = len(records)
			records = append(records, rec)
		}
	}
	return records
}
