// Package headless renders fandom pages in headless Chrome so that content
// injected by client-side scripts is present before extraction.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

const (
	defaultTimeout      = 45 * time.Second
	defaultWaitSelector = "body"
)

// Config controls the headless renderer.
type Config struct {
	// MaxParallel bounds concurrently open tabs; 0 means unbounded.
	MaxParallel  int
	UserAgent    string
	Timeout      time.Duration
	WaitSelector string
}

// Renderer implements scrape.Fetcher on top of a shared Chrome allocator.
type Renderer struct {
	cfg         Config
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts the browser allocator. Chrome itself is launched lazily on the
// first Fetch.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}
	r := &Renderer{cfg: cfg}
	if cfg.MaxParallel > 0 {
		r.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	r.allocator, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Fetch opens target in a fresh tab, waits for the article body, and returns
// the rendered document.
func (r *Renderer) Fetch(ctx context.Context, target string) (scrape.FetchResponse, error) {
	if r.tabs != nil {
		if err := r.tabs.Acquire(ctx, 1); err != nil {
			return scrape.FetchResponse{}, fmt.Errorf("wait for browser tab: %w", err)
		}
		defer r.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(r.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tab, cancel := context.WithTimeout(tab, r.cfg.Timeout)
	defer cancel()

	doc := &document{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		r.prepareTab(),
		chromedp.Navigate(target),
		chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("render %s: %w", target, err)
	}

	resp := doc.response(target, location)
	if resp.StatusCode >= http.StatusBadRequest {
		return scrape.FetchResponse{}, fmt.Errorf("render %s: status %d", target, resp.StatusCode)
	}
	resp.Body = []byte(html)
	resp.Duration = time.Since(start)
	return resp, nil
}

func (r *Renderer) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
		return nil
	})
}

// document remembers the last main-document response seen in a tab.
// Redirects produce several; the final one describes the rendered page.
type document struct {
	mu       sync.Mutex
	status   int
	url      string
	mimeType string
}

func (d *document) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(e.Response.Status)
	d.url = e.Response.URL
	d.mimeType = e.Response.MimeType
	d.mu.Unlock()
}

// response builds the fetch metadata. Pages served from cache emit no
// response event; they are reported as 200 at the browser location.
func (d *document) response(requested, location string) scrape.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := scrape.FetchResponse{
		URL:        d.url,
		StatusCode: d.status,
		Headers:    http.Header{},
	}
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = requested
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	if d.mimeType != "" {
		resp.Headers.Set("Content-Type", d.mimeType)
	}
	return resp
}
