package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/metrics"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

// Extraction outcomes for the extract_requests_total metric.
const (
	OutcomeOK           = "ok"
	OutcomeEmptyInput   = "empty_input"
	OutcomeFetchError   = "fetch_error"
	OutcomeUpstream     = "upstream_error"
	OutcomeInvalidReply = "invalid_reply"
)

// ErrFetch wraps failures to download the page behind a URL.
var ErrFetch = errors.New("fetch page failed")

// Extractor is the model-facing half of Service.
type Extractor interface {
	Extract(ctx context.Context, text string) (json.RawMessage, error)
}

// Service extracts from raw text or from a page fetched by URL.
type Service struct {
	extractor Extractor
	fetcher   scrape.Fetcher
}

// NewService wires a Service. fetcher may be nil when URL input is unsupported.
func NewService(extractor Extractor, fetcher scrape.Fetcher) *Service {
	return &Service{extractor: extractor, fetcher: fetcher}
}

// FromText extracts from text directly.
func (s *Service) FromText(ctx context.Context, text string) (json.RawMessage, error) {
	out, err := s.extractor.Extract(ctx, text)
	metrics.ObserveExtract(Outcome(err))
	return out, err
}

// FromURL fetches url and extracts from the page body.
func (s *Service) FromURL(ctx context.Context, url string) (json.RawMessage, error) {
	if s.fetcher == nil {
		metrics.ObserveExtract(OutcomeFetchError)
		return nil, fmt.Errorf("%w: no fetcher configured", ErrFetch)
	}
	target, err := scrape.ValidateURL(url)
	if err != nil {
		metrics.ObserveExtract(OutcomeEmptyInput)
		return nil, err
	}
	page, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		metrics.ObserveExtract(OutcomeFetchError)
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return s.FromText(ctx, string(page.Body))
}

// Outcome maps an extraction error onto its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrEmptyInput):
		return OutcomeEmptyInput
	case errors.Is(err, ErrInvalidReply):
		return OutcomeInvalidReply
	case errors.Is(err, ErrFetch):
		return OutcomeFetchError
	default:
		return OutcomeUpstream
	}
}
