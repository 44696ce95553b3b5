package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/character"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/extract"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/metrics"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/middleware"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/resultstore"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/runner"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes caps request bodies; extraction input is the largest expected.
const maxBodyBytes = 4 << 20

// Error messages returned to clients. Details are logged, never returned.
const (
	msgInvalidBody     = "invalid request body"
	msgScrapeFailed    = "scrape failed"
	msgOutputMissing   = "output not generated"
	msgReadOutput      = "failed to read scrape output"
	msgQueueFull       = "scrape queue full"
	msgShuttingDown    = "scrape service shutting down"
	msgHistoryFailed   = "failed to read history"
	msgJobNotFound     = "job not found"
	msgExtractInput    = "text or url is required"
	msgExtractFailed   = "extraction failed"
	msgExtractDisabled = "extraction is not configured"
	msgInternal        = "internal server error"
)

// Scraper runs scrape jobs and reports on them.
type Scraper interface {
	Submit(ctx context.Context, rawURL string) (scrape.Result, error)
	Job(ctx context.Context, jobID string) (scrape.Job, error)
}

// HistoryReader lists stored results and compares characters.
type HistoryReader interface {
	List(ctx context.Context) (scrape.HistoryResult, error)
	Compare(ctx context.Context, ids []string) (character.Comparison, error)
}

// Extractor turns text or a page into structured JSON.
type Extractor interface {
	FromText(ctx context.Context, text string) (json.RawMessage, error)
	FromURL(ctx context.Context, url string) (json.RawMessage, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options holds optional server settings.
type Options struct {
	RequestTimeout time.Duration
	ReadyChecks    map[string]ReadyCheck
}

// Server wires HTTP handlers to the scrape service.
type Server struct {
	router    chi.Router
	scraper   Scraper
	history   HistoryReader
	extractor Extractor
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. extractor may be
// nil when no completion backend is configured.
func NewServer(
	scraper Scraper,
	history HistoryReader,
	extractor Extractor,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper:   scraper,
		history:   history,
		extractor: extractor,
		opts:      opts,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/scrap", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Post("/", s.submitScrape)
		r.Get("/history", s.getHistory)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/compare", s.compare)
		r.Post("/extract", s.extract)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failing := map[string]string{}
	for name, check := range s.opts.ReadyChecks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failing[name] = "unavailable"
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	URL string `json:"url"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeBody(r, &req); err != nil {
		s.logger.Info("rejecting scrape request", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	res, err := s.scraper.Submit(r.Context(), req.URL)
	if err != nil {
		status, msg := scrapeErrorStatus(err)
		s.logger.Error("scrape request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("job_id", res.JobID),
			zap.String("url", req.URL),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// scrapeErrorStatus maps a Submit failure onto its HTTP status and message.
func scrapeErrorStatus(err error) (int, string) {
	var (
		parseErr *resultstore.ParseError
		ioErr    *resultstore.IOError
	)
	switch {
	case errors.Is(err, scrape.ErrInvalidURL):
		return http.StatusBadRequest, "url must be an absolute http(s) url"
	case errors.Is(err, scrape.ErrQueueFull):
		return http.StatusServiceUnavailable, msgQueueFull
	case errors.Is(err, scrape.ErrQueueClosed):
		return http.StatusServiceUnavailable, msgShuttingDown
	case errors.Is(err, runner.ErrProcessFailed):
		return http.StatusInternalServerError, msgScrapeFailed
	case errors.Is(err, scrape.ErrArtifactMissing):
		return http.StatusNotFound, msgOutputMissing
	case errors.As(err, &parseErr), errors.As(err, &ioErr):
		return http.StatusInternalServerError, msgReadOutput
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, msgScrapeFailed
	default:
		return http.StatusInternalServerError, msgScrapeFailed
	}
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	res, err := s.history.List(r.Context())
	if err != nil {
		s.logger.Error("history listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgHistoryFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.scraper.Job(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, msgJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}
	cmp, err := s.history.Compare(r.Context(), ids)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cmp)
	case errors.Is(err, scrape.ErrInvalidComparison):
		writeError(w, http.StatusBadRequest, scrape.ErrInvalidComparison.Error())
	case errors.Is(err, scrape.ErrCharacterNotFound):
		writeError(w, http.StatusNotFound, scrape.ErrCharacterNotFound.Error())
	default:
		s.logger.Error("compare failed", zap.Strings("ids", ids), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgHistoryFailed)
	}
}

type extractRequest struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	text, target := strings.TrimSpace(req.Text), strings.TrimSpace(req.URL)
	if text == "" && target == "" {
		writeError(w, http.StatusBadRequest, msgExtractInput)
		return
	}
	if s.extractor == nil {
		writeError(w, http.StatusInternalServerError, msgExtractDisabled)
		return
	}

	var (
		out json.RawMessage
		err error
	)
	if text != "" {
		out, err = s.extractor.FromText(r.Context(), req.Text)
	} else {
		out, err = s.extractor.FromURL(r.Context(), target)
	}
	if err != nil {
		s.logger.Error("extraction failed",
			zap.String("url", target),
			zap.String("outcome", extract.Outcome(err)),
			zap.Error(err),
		)
		if errors.Is(err, scrape.ErrInvalidURL) || errors.Is(err, extract.ErrEmptyInput) {
			writeError(w, http.StatusBadRequest, msgExtractInput)
			return
		}
		writeError(w, http.StatusInternalServerError, msgExtractFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"response": out})
}

func decodeBody(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := jsonAPI.NewDecoder(body).Decode(dst); err != nil {
		return err //nolint:wrapcheck // decoder errors are only logged
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := jsonAPI.Marshal(payload)
	if err != nil {
		zap.L().Error("encode response failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"` + msgInternal + `"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		zap.L().Debug("response write failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
