package character

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRawCurrentLayout(t *testing.T) {
	t.Parallel()

	rec := FromRaw(map[string]any{
		"name":             "Monkey D. Luffy",
		"image_url":        "https://static.wikia.nocookie.net/luffy.png",
		"description":      "Captain of the Straw Hat Pirates.",
		"character_type":   "Pirate",
		"attribute1_name":  "Bounty",
		"attribute1_value": "3,000,000,000",
		"attribute2_name":  "Devil Fruit",
		"attribute2_value": "",
		"source_url":       "https://onepiece.fandom.com/wiki/Monkey_D._Luffy",
	}, "onepiece")

	assert.Equal(t, "https://onepiece.fandom.com/wiki/Monkey_D._Luffy", rec.ID)
	assert.Equal(t, "onepiece", rec.Serie)
	assert.Equal(t, map[string]string{"Bounty": "3,000,000,000", "Type": "Pirate"}, rec.Attributes)
	require.NoError(t, rec.Validate())
}

func TestFromRawLegacyLayout(t *testing.T) {
	t.Parallel()

	rec := FromRaw(map[string]any{
		"name":            "Naruto Uzumaki",
		"image":           "https://static.wikia.nocookie.net/naruto.png",
		"description":     "Seventh Hokage.",
		"type_role_class": "Shinobi",
		"attribute_1":     "Clan: Uzumaki",
		"attribute_2":     "no label here",
		"character_url":   "https://naruto.fandom.com/wiki/Naruto_Uzumaki",
	}, "naruto")

	assert.Equal(t, "https://naruto.fandom.com/wiki/Naruto_Uzumaki", rec.ID)
	assert.Equal(t, "https://static.wikia.nocookie.net/naruto.png", rec.Image)
	assert.Equal(t, map[string]string{"Clan": "Uzumaki", "Type": "Shinobi"}, rec.Attributes)
}

func TestFromRawFallsBackToNameForID(t *testing.T) {
	t.Parallel()

	rec := FromRaw(map[string]any{"name": "Zoro"}, "onepiece")
	assert.Equal(t, "Zoro", rec.ID)
	assert.Error(t, rec.Validate())
}

func TestValidateRejectsRelativeImage(t *testing.T) {
	t.Parallel()

	rec := Record{ID: "x", Name: "X", Image: "/img/x.png", Description: "d", Attributes: map[string]string{}}
	require.Error(t, rec.Validate())

	rec.Image = "https://img/x.png"
	require.NoError(t, rec.Validate())
}

func TestItemsShapes(t *testing.T) {
	t.Parallel()

	wrapped := map[string]any{
		"fandom_name": "onepiece",
		"characters":  []any{map[string]any{"name": "A"}, "junk", map[string]any{"name": "B"}},
	}
	assert.Len(t, Items(wrapped), 2)
	assert.Len(t, Items([]any{map[string]any{"name": "A"}}), 1)
	assert.Len(t, Items(map[string]any{"name": "solo"}), 1)
	assert.Nil(t, Items("text"))
}

func TestCompare(t *testing.T) {
	t.Parallel()

	a := Record{Name: "A", Attributes: map[string]string{"Type": "Pirate", "Bounty": "100"}}
	b := Record{Name: "B", Attributes: map[string]string{"Type": "Pirate", "Clan": "D"}}

	cmp := Compare(a, b)
	require.Equal(t, []Row{
		{Attribute: "Bounty", Left: "100", Right: Missing},
		{Attribute: "Clan", Left: Missing, Right: "D"},
		{Attribute: "Type", Left: "Pirate", Right: "Pirate", Same: true},
	}, cmp.Rows)
	assert.Equal(t, "A", cmp.Left.Name)
}
