package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/docstore"
)

func TestResolver_LocationsLoadAncestorsOnce(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	r := NewResolver(store, ResolverConfig{LocationCollection: "location", TokenCollection: "languageToken"})

	require.NoError(t, r.ResolveLocations(ctx, []string{"loc-city", "loc-city", "nowhere"}))
	reads := store.Reads("location")
	assert.Equal(t, 2, reads, "one read for the ids, one for their parents")

	city, ok := r.Location("loc-city")
	require.True(t, ok)
	assert.Equal(t, "Conakry", city.Name)
	assert.Equal(t, []string{"CKY"}, city.Identifiers)
	assert.Equal(t, []string{"loc-country"}, city.Chain)
	assert.Equal(t, []string{"LNG_ADMIN_0"}, city.Levels)
	_, ok = r.Location("nowhere")
	assert.False(t, ok)

	require.NoError(t, r.ResolveLocations(ctx, []string{"loc-country", "loc-city", "nowhere"}))
	assert.Equal(t, reads, store.Reads("location"))

	ids, depth := r.LocationWidths()
	assert.Equal(t, 1, ids)
	assert.Equal(t, 1, depth)

	locs, _ := r.Unresolved()
	assert.Equal(t, 1, locs)
}

func TestResolver_LocationCycleEndsChain(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	require.NoError(t, store.Insert(ctx, "location", []docstore.Document{
		{"_id": "a", "name": "A", "parentLocationId": "b"},
		{"_id": "b", "name": "B", "parentLocationId": "a"},
	}))
	r := NewResolver(store, ResolverConfig{LocationCollection: "location"})
	require.NoError(t, r.ResolveLocations(ctx, []string{"a"}))

	a, ok := r.Location("a")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, a.Chain)
}

func TestResolver_BatchesLocationReads(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	r := NewResolver(store, ResolverConfig{LocationCollection: "location", BatchSize: 1})
	require.NoError(t, r.ResolveLocations(ctx, []string{"loc-city", "loc-country"}))
	assert.Equal(t, 2, store.Reads("location"))
}

func TestResolver_BackfillFallsBackToDefaultLanguage(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	r := NewResolver(store, ResolverConfig{
		TokenCollection: "languageToken",
		Language:        "fr",
		DefaultLanguage: "en",
		TokenPrefix:     "LNG_",
	})

	require.NoError(t, r.Backfill(ctx, []string{"LNG_FIRST_NAME", "LNG_AGE", "LNG_UNKNOWN", "not a token"}))
	assert.Equal(t, 2, store.Reads("languageToken"))
	assert.Equal(t, "Prénom", r.Translate("LNG_FIRST_NAME"))
	assert.Equal(t, "Age", r.Translate("LNG_AGE"))
	assert.Equal(t, "LNG_UNKNOWN", r.Translate("LNG_UNKNOWN"))
	assert.Equal(t, 2, r.DictionarySize())
	assert.False(t, r.Missing("LNG_UNKNOWN"))
	locs, toks := r.Unresolved()
	assert.Equal(t, 0, locs)
	assert.Equal(t, 1, toks)

	require.NoError(t, r.Backfill(ctx, []string{"LNG_AGE", "LNG_UNKNOWN"}))
	assert.Equal(t, 2, store.Reads("languageToken"), "fallback translations and misses are cached")
}

func TestResolver_BackfillSingleLookupWhenLanguageIsDefault(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	r := NewResolver(store, ResolverConfig{TokenCollection: "languageToken", Language: "en", DefaultLanguage: "en", TokenPrefix: "LNG_"})

	require.NoError(t, r.Backfill(ctx, []string{"LNG_MISSING"}))
	assert.Equal(t, 1, store.Reads("languageToken"))
	assert.True(t, r.IsToken("LNG_MISSING"))
	assert.False(t, r.IsToken("missing"))
}
