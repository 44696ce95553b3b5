package watch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExtractor) FromText(_ context.Context, text string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "text:"+text)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"source":"text"}`), nil
}

func (f *fakeExtractor) FromURL(_ context.Context, url string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "url:"+url)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"source":"url"}`), nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &fakeExtractor{}, nil)
	require.Error(t, err)
	_, err = New(Config{File: "data/data.json"}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{File: "data/data.json", OutputFile: "data/./data.json"}, &fakeExtractor{}, nil)
	require.Error(t, err)

	w, err := New(Config{File: "data/data.json"}, &fakeExtractor{}, nil)
	require.NoError(t, err)
	require.Equal(t, "data/data.extracted.json", w.cfg.OutputFile)
	require.Equal(t, 500*time.Millisecond, w.cfg.Debounce)
}

func TestHandlePrefersURL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"url":"https://onepiece.fandom.com","text":"ignored"}`), 0o600))

	ext := &fakeExtractor{}
	w, err := New(Config{File: file}, ext, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Handle(context.Background()))
	require.Equal(t, []string{"url:https://onepiece.fandom.com"}, ext.calls)

	// #nosec G304 -- test reads from the controlled temp directory.
	out, err := os.ReadFile(filepath.Join(dir, "data.extracted.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"source":"url"}`, string(out))
}

func TestHandleTextAndEmptyRequests(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "data.json")
	ext := &fakeExtractor{}
	w, err := New(Config{File: file, OutputFile: filepath.Join(dir, "out", "result.json")}, ext, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte(`{"text":"Zoro is a swordsman"}`), 0o600))
	require.NoError(t, w.Handle(context.Background()))
	require.Equal(t, []string{"text:Zoro is a swordsman"}, ext.calls)

	require.NoError(t, os.WriteFile(file, []byte(`{"other":true}`), 0o600))
	require.NoError(t, w.Handle(context.Background()))
	require.Len(t, ext.calls, 1)

	require.NoError(t, os.WriteFile(file, []byte(`not json`), 0o600))
	require.Error(t, w.Handle(context.Background()))
}

func TestHandleExtractorError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"text":"x"}`), 0o600))

	w, err := New(Config{File: file}, &fakeExtractor{err: errors.New("upstream down")}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, w.Handle(context.Background()), "upstream down")
	_, statErr := os.Stat(filepath.Join(dir, "data.extracted.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRunReactsToWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "data.json")
	ext := &fakeExtractor{}
	w, err := New(Config{File: file, Debounce: 20 * time.Millisecond}, ext, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte(`{"text":"Luffy"}`), 0o600))

	require.Eventually(t, func() bool { return ext.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "data.extracted.json"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
