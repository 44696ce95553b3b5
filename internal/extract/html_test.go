package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, LooksLikeHTML("<!DOCTYPE html><html></html>"))
	assert.True(t, LooksLikeHTML("  <div>fragment</div>"))
	assert.False(t, LooksLikeHTML("Monkey D. Luffy is a pirate."))
}

func TestReduceHTMLPrefersArticleContent(t *testing.T) {
	t.Parallel()

	page := `<html><body><header>Fandom</header><style>.x{}</style>` +
		`<main><h1>Luffy</h1><iframe src="ad"></iframe><p>Captain</p></main></body></html>`
	got := ReduceHTML(page)
	assert.Contains(t, got, "<h1>Luffy</h1>")
	assert.Contains(t, got, "<p>Captain</p>")
	assert.NotContains(t, got, "Fandom")
	assert.NotContains(t, got, "iframe")
	assert.NotContains(t, got, ".x{}")
}

func TestReduceHTMLFallsBackToBody(t *testing.T) {
	t.Parallel()

	got := ReduceHTML(`<html><body><p>Zoro</p><noscript>enable js</noscript></body></html>`)
	assert.Contains(t, got, "<p>Zoro</p>")
	assert.NotContains(t, got, "enable js")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "ab", Truncate("abc", 2))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a", Truncate("aé", 2))
}
