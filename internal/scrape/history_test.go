package scrape_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/scrape"
)

const luffyJSON = `{"characters":[{
  "name":"Monkey D. Luffy",
  "image_url":"https://static.wikia.nocookie.net/luffy.png",
  "description":"Captain.",
  "attribute1_name":"Bounty","attribute1_value":"3,000,000,000",
  "source_url":"https://onepiece.fandom.com/wiki/Luffy"}]}`

const zoroJSON = `[{
  "name":"Roronoa Zoro",
  "image_url":"https://static.wikia.nocookie.net/zoro.png",
  "description":"Swordsman.",
  "attribute1_name":"Bounty","attribute1_value":"1,111,000,000",
  "attribute2_name":"Crew","attribute2_value":"Straw Hat Pirates",
  "source_url":"https://onepiece.fandom.com/wiki/Zoro"}]`

func writeResult(t *testing.T, root, category, name, body string) {
	t.Helper()
	dir := filepath.Join(root, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestHistoryListProjectsCharacters(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeResult(t, root, "onepiece", "luffy.json", luffyJSON)
	writeResult(t, root, "onepiece", "zoro.json", zoroJSON)
	writeResult(t, root, "onepiece", "notes.txt", "ignored")

	core, logs := observer.New(zap.WarnLevel)
	writeResult(t, root, "naruto", "broken.json", "{oops")

	h := scrape.NewHistory(root, 0, zap.New(core))
	res, err := h.List(context.Background())
	require.NoError(t, err)

	require.Len(t, res.History, 2)
	require.Len(t, res.Characters, 2)
	assert.Equal(t, "onepiece", res.Characters[0].Serie)
	assert.Equal(t, 1, logs.FilterMessage("skipping unreadable result file").Len())
}

func TestHistoryListEmptyRoot(t *testing.T) {
	t.Parallel()

	h := scrape.NewHistory(t.TempDir(), 0, nil)
	res, err := h.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.History)
	assert.Empty(t, res.History)
	assert.Empty(t, res.Characters)
}

func TestHistoryListMissingRoot(t *testing.T) {
	t.Parallel()

	h := scrape.NewHistory(filepath.Join(t.TempDir(), "absent"), 0, nil)
	_, err := h.List(context.Background())
	require.Error(t, err)
}

func TestHistoryCacheAndInvalidate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeResult(t, root, "onepiece", "luffy.json", luffyJSON)
	h := scrape.NewHistory(root, time.Minute, nil)

	first, err := h.List(context.Background())
	require.NoError(t, err)
	require.Len(t, first.History, 1)

	writeResult(t, root, "onepiece", "zoro.json", zoroJSON)
	cached, err := h.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached.History, 1)

	h.Invalidate()
	fresh, err := h.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh.History, 2)
}

func TestHistoryCompare(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeResult(t, root, "onepiece", "luffy.json", luffyJSON)
	writeResult(t, root, "onepiece", "zoro.json", zoroJSON)
	h := scrape.NewHistory(root, 0, nil)
	luffy := "https://onepiece.fandom.com/wiki/Luffy"
	zoro := "https://onepiece.fandom.com/wiki/Zoro"

	cmp, err := h.Compare(context.Background(), []string{luffy, " " + zoro})
	require.NoError(t, err)
	assert.Equal(t, "Monkey D. Luffy", cmp.Left.Name)
	assert.Equal(t, "Roronoa Zoro", cmp.Right.Name)
	require.Len(t, cmp.Rows, 2)
	assert.Equal(t, "Bounty", cmp.Rows[0].Attribute)
	assert.False(t, cmp.Rows[0].Same)

	_, err = h.Compare(context.Background(), []string{luffy})
	require.ErrorIs(t, err, scrape.ErrInvalidComparison)

	_, err = h.Compare(context.Background(), []string{luffy, "https://onepiece.fandom.com/wiki/Nami"})
	require.ErrorIs(t, err, scrape.ErrCharacterNotFound)
}
