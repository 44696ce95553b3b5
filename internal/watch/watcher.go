// Package watch re-runs extraction whenever a watched request file changes.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/metrics"
)

// Watch outcomes for the watch_events_total metric.
const (
	OutcomeExtracted = "extracted"
	OutcomeNoInput   = "no_input"
	OutcomeError     = "error"
)

// ErrNoInput is returned when the request file has neither url nor text.
var ErrNoInput = errors.New("request file has no url or text")

// Extractor is the subset of extract.Service the watcher needs.
type Extractor interface {
	FromText(ctx context.Context, text string) (json.RawMessage, error)
	FromURL(ctx context.Context, url string) (json.RawMessage, error)
}

// Config controls which file is watched and where results go.
type Config struct {
	File       string
	OutputFile string
	Debounce   time.Duration
}

// Request is the content of the watched file.
type Request struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Watcher handles change events for a single file.
type Watcher struct {
	cfg       Config
	extractor Extractor
	logger    *zap.Logger
}

// New builds a Watcher.
func New(cfg Config, extractor Extractor, logger *zap.Logger) (*Watcher, error) {
	if strings.TrimSpace(cfg.File) == "" {
		return nil, errors.New("watch file is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = strings.TrimSuffix(cfg.File, ".json") + ".extracted.json"
	}
	if filepath.Clean(cfg.OutputFile) == filepath.Clean(cfg.File) {
		return nil, errors.New("watch output file must differ from the watched file")
	}
	return &Watcher{cfg: cfg, extractor: extractor, logger: logger}, nil
}

// Run watches the file's parent directory until ctx ends. Editors that save
// by rename-and-replace are still seen because the directory is watched.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer func() {
		if cerr := fsw.Close(); cerr != nil {
			w.logger.Warn("close fs watcher", zap.Error(cerr))
		}
	}()

	dir := filepath.Dir(w.cfg.File)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.cfg.File)
	w.logger.Info("watching request file", zap.String("file", target), zap.String("output", w.cfg.OutputFile))

	var (
		mu    sync.Mutex
		timer *time.Timer
		wg    sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fs watcher error", zap.Error(err))
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil && timer.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timer = time.AfterFunc(w.cfg.Debounce, func() {
				defer wg.Done()
				if err := w.Handle(ctx); err != nil {
					w.logger.Error("watch handling failed", zap.String("file", target), zap.Error(err))
				}
			})
			mu.Unlock()
		}
	}
}

// Handle reads the request file once, runs extraction, and writes the result.
func (w *Watcher) Handle(ctx context.Context) error {
	req, err := readRequest(w.cfg.File)
	if err != nil {
		metrics.ObserveWatch(OutcomeError)
		return err
	}

	var out json.RawMessage
	switch {
	case strings.TrimSpace(req.URL) != "":
		out, err = w.extractor.FromURL(ctx, req.URL)
	case strings.TrimSpace(req.Text) != "":
		out, err = w.extractor.FromText(ctx, req.Text)
	default:
		metrics.ObserveWatch(OutcomeNoInput)
		w.logger.Info("request file has no url or text", zap.String("file", w.cfg.File))
		return nil
	}
	if err != nil {
		metrics.ObserveWatch(OutcomeError)
		return fmt.Errorf("extract: %w", err)
	}

	if err := writeAtomic(w.cfg.OutputFile, out); err != nil {
		metrics.ObserveWatch(OutcomeError)
		return err
	}
	metrics.ObserveWatch(OutcomeExtracted)
	w.logger.Info("extraction written",
		zap.String("file", w.cfg.File),
		zap.String("output", w.cfg.OutputFile),
		zap.Int("bytes", len(out)),
	)
	return nil
}

func readRequest(path string) (Request, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from config
	if err != nil {
		return Request{}, fmt.Errorf("read request file: %w", err)
	}
	var req Request
	if err := jsoniter.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("parse request file: %w", err)
	}
	return req, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".extract-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
