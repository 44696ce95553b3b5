// Package gateway dispatches /api/<service>/... requests to backend services.
package gateway

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/metrics"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/middleware"
)

// Prefix is the public path every proxied request starts with.
const Prefix = "/api"

// Gateway routes requests by service name to a fixed table of backends.
type Gateway struct {
	router  chi.Router
	proxies map[string]*httputil.ReverseProxy
	logger  *zap.Logger
}

// ParseRoutes validates a service table of name to absolute http(s) base URL.
func ParseRoutes(services map[string]string) (map[string]*url.URL, error) {
	routes := make(map[string]*url.URL, len(services))
	for name, raw := range services {
		if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("invalid service name %q", name)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("service %s: %q is not an absolute http(s) url", name, raw)
		}
		routes[name] = u
	}
	return routes, nil
}

// New builds a Gateway with one reverse proxy per route.
func New(routes map[string]*url.URL, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		proxies: make(map[string]*httputil.ReverseProxy, len(routes)),
		logger:  logger,
	}
	transport := newTransport()
	for name, target := range routes {
		g.proxies[name] = g.newProxy(name, target, transport)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc(Prefix+"/{service}", g.dispatch)
	r.HandleFunc(Prefix+"/{service}/*", g.dispatch)

	g.router = r
	return g
}

// Handler returns the router for use with http.Server.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Services lists the configured service names.
func (g *Gateway) Services() []string {
	names := make([]string, 0, len(g.proxies))
	for name := range g.proxies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	proxy, ok := g.proxies[name]
	if !ok {
		metrics.ObserveProxy(metrics.UnknownServiceLabel, metrics.OutcomeUnknownService)
		g.logger.Warn("unknown service requested",
			zap.String("service", name),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeUnavailable(w, name)
		return
	}
	metrics.ObserveProxy(name, metrics.OutcomeForwarded)
	proxy.ServeHTTP(w, r)
}

func (g *Gateway) newProxy(name string, target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	prefix := Prefix + "/" + name
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path, pr.Out.URL.RawPath = rewritePath(target, pr.In.URL, prefix)
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = target.Host
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.ObserveProxy(name, metrics.OutcomeBackendError)
			g.logger.Error("backend unreachable",
				zap.String("service", name),
				zap.String("target", target.String()),
				zap.String("request_id", middleware.GetRequestID(r.Context())),
				zap.Error(err),
			)
			writeUnavailable(w, name)
		},
	}
}

// rewritePath strips prefix from the inbound path and joins the rest onto the
// target base path.
func rewritePath(target, in *url.URL, prefix string) (string, string) {
	rest := strings.TrimPrefix(in.Path, prefix)
	if rest == "" {
		rest = "/"
	}
	base := strings.TrimSuffix(target.Path, "/")
	path := base + rest

	rawPath := ""
	if in.RawPath != "" {
		rawRest := strings.TrimPrefix(in.RawPath, prefix)
		if rawRest == "" {
			rawRest = "/"
		}
		rawPath = strings.TrimSuffix(target.EscapedPath(), "/") + rawRest
	}
	return path, rawPath
}

func writeUnavailable(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = fmt.Fprintf(w, "Service %s non disponible.", name)
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
