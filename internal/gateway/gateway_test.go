package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type seenRequest struct {
	method string
	path   string
	query  string
	host   string
	body   string
	header http.Header
}

func newBackend(t *testing.T) (*httptest.Server, chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- seenRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			host:   r.Host,
			body:   string(body),
			header: r.Header.Clone(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func newGateway(t *testing.T, services map[string]string) *Gateway {
	t.Helper()
	routes, err := ParseRoutes(services)
	require.NoError(t, err)
	return New(routes, zap.NewNop())
}

func TestDispatchStripsPrefixAndForwards(t *testing.T) {
	t.Parallel()

	backend, seen := newBackend(t)
	gw := newGateway(t, map[string]string{"scrap": backend.URL + "/scrap"})

	req := httptest.NewRequest(http.MethodPost, "/api/scrap/?debug=1", strings.NewReader(`{"url":"https://naruto.fandom.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Custom", "kept")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())

	got := <-seen
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/scrap/", got.path)
	require.Equal(t, "debug=1", got.query)
	require.Equal(t, `{"url":"https://naruto.fandom.com"}`, got.body)
	require.Equal(t, "kept", got.header.Get("X-Custom"))
	require.NotEmpty(t, got.header.Get("X-Forwarded-For"))
	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	require.Equal(t, backendURL.Host, got.host)
}

func TestDispatchNestedPath(t *testing.T) {
	t.Parallel()

	backend, seen := newBackend(t)
	gw := newGateway(t, map[string]string{"scrap": backend.URL + "/scrap"})

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scrap/history", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/scrap/history", (<-seen).path)

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scrap", nil))
	require.Equal(t, "/scrap/", (<-seen).path)
}

func TestUnknownServiceIs502(t *testing.T) {
	t.Parallel()

	backend, seen := newBackend(t)
	gw := newGateway(t, map[string]string{"scrap": backend.URL})

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Service users non disponible.", rec.Body.String())
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	require.Len(t, seen, 0)
}

func TestUnknownServicesShareOneMetricSeries(t *testing.T) {
	t.Parallel()

	backend, _ := newBackend(t)
	gw := newGateway(t, map[string]string{"scrap": backend.URL})

	for _, name := range []string{"intruder-a", "intruder-b", "intruder-c"} {
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/"+name, nil))
		require.Equal(t, http.StatusBadGateway, rec.Code)
	}

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.NotContains(t, body, "intruder-")
	require.Contains(t, body, `service="_unknown"`)
}

func TestBackendDownIs502(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.NotFoundHandler())
	dead := backend.URL
	backend.Close()

	gw := newGateway(t, map[string]string{"scrap": dead})
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scrap/history", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Service scrap non disponible.", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, map[string]string{})
	req := httptest.NewRequest(http.MethodOptions, "/api/scrap/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestParseRoutesRejectsBadURLs(t *testing.T) {
	t.Parallel()

	_, err := ParseRoutes(map[string]string{"scrap": "/relative"})
	require.Error(t, err)
	_, err = ParseRoutes(map[string]string{"": "http://localhost:4000"})
	require.Error(t, err)
	routes, err := ParseRoutes(map[string]string{"scrap": "http://localhost:4000/scrap"})
	require.NoError(t, err)
	require.Equal(t, "/scrap", routes["scrap"].Path)
}

func TestRewritePath(t *testing.T) {
	t.Parallel()

	target, _ := url.Parse("http://localhost:4000/scrap/")
	in, _ := url.Parse("/api/scrap/jobs/abc")
	path, raw := rewritePath(target, in, "/api/scrap")
	require.Equal(t, "/scrap/jobs/abc", path)
	require.Empty(t, raw)

	bare, _ := url.Parse("http://localhost:4000")
	path, _ = rewritePath(bare, in, "/api/scrap")
	require.Equal(t, "/jobs/abc", path)
}

func TestServices(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, map[string]string{"scrap": "http://a", "search": "http://b"})
	require.Equal(t, []string{"scrap", "search"}, gw.Services())
}
