package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/filter"
)

// Location is a resolved entry of the location hierarchy.
type Location struct {
	ID          string
	Name        string
	Identifiers []string
	ParentID    string
	GeoLevel    string
	// Chain lists ancestor ids from the root down to the direct parent;
	// Levels holds their geographic level codes in the same order.
	Chain  []string
	Levels []string
}

// ResolverConfig names the reference collections and lookup rules.
type ResolverConfig struct {
	LocationCollection string
	TokenCollection    string
	Language           string
	DefaultLanguage    string
	TokenPrefix        string
	BatchSize          int
}

// Resolver loads and caches the locations and translations one export
// needs. It belongs to a single job; concurrent readers are safe once
// loading for a batch is done.
type Resolver struct {
	store docstore.Store
	cfg   ResolverConfig

	mu         sync.RWMutex
	locations  map[string]*Location
	unresolved map[string]struct{}
	dict       map[string]string
	untrans    map[string]struct{}
}

// NewResolver returns an empty resolver reading from store.
func NewResolver(store docstore.Store, cfg ResolverConfig) *Resolver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Resolver{
		store:      store,
		cfg:        cfg,
		locations:  make(map[string]*Location),
		unresolved: make(map[string]struct{}),
		dict:       make(map[string]string),
		untrans:    make(map[string]struct{}),
	}
}

// ── Locations ────────────────────────────────────────────────────────────────

// ResolveLocations loads ids and, transitively, all their ancestors. Ids
// already cached, or already known not to exist, are not fetched again.
func (r *Resolver) ResolveLocations(ctx context.Context, ids []string) error {
	pending := r.uncachedLocations(ids)
	for len(pending) > 0 {
		batch := pending
		if len(batch) > r.cfg.BatchSize {
			batch = pending[:r.cfg.BatchSize]
		}
		pending = pending[len(batch):]

		docs, err := r.store.FindByIDs(ctx, r.cfg.LocationCollection, batch)
		if err != nil {
			return fmt.Errorf("export: resolve locations: %w", err)
		}
		found := make(map[string]struct{}, len(docs))
		var parents []string
		r.mu.Lock()
		for _, d := range docs {
			loc := locationFromDoc(d)
			if loc.ID == "" {
				continue
			}
			r.locations[loc.ID] = loc
			found[loc.ID] = struct{}{}
			if loc.ParentID != "" {
				parents = append(parents, loc.ParentID)
			}
		}
		for _, id := range batch {
			if _, ok := found[id]; !ok {
				r.unresolved[id] = struct{}{}
			}
		}
		r.mu.Unlock()
		pending = append(pending, r.uncachedLocations(parents)...)
		pending = dedupe(pending)
	}
	r.mu.Lock()
	r.buildChains()
	r.mu.Unlock()
	return nil
}

func (r *Resolver) uncachedLocations(ids []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.locations[id]; ok {
			continue
		}
		if _, ok := r.unresolved[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// buildChains derives the ancestor chain of every cached location. A cycle
// or a missing ancestor ends the chain.
func (r *Resolver) buildChains() {
	for _, loc := range r.locations {
		var chain, levels []string
		visited := map[string]struct{}{loc.ID: {}}
		for pid := loc.ParentID; pid != ""; {
			if _, loop := visited[pid]; loop {
				break
			}
			visited[pid] = struct{}{}
			parent, ok := r.locations[pid]
			if !ok {
				break
			}
			chain = append(chain, parent.ID)
			levels = append(levels, parent.GeoLevel)
			pid = parent.ParentID
		}
		reverse(chain)
		reverse(levels)
		loc.Chain, loc.Levels = chain, levels
	}
}

// Location returns a cached location.
func (r *Resolver) Location(id string) (*Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.locations[id]
	return loc, ok
}

// LocationWidths returns the longest identifier list and the deepest
// ancestor chain among the cached locations.
func (r *Resolver) LocationWidths() (identifiers, depth int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, loc := range r.locations {
		identifiers = max(identifiers, len(loc.Identifiers))
		depth = max(depth, len(loc.Chain))
	}
	return identifiers, depth
}

func locationFromDoc(d docstore.Document) *Location {
	id, _ := docstore.DocumentID(d)
	loc := &Location{ID: id}
	loc.Name, _ = d["name"].(string)
	loc.ParentID, _ = d["parentLocationId"].(string)
	loc.GeoLevel, _ = d["geographicalLevelId"].(string)
	if list, ok := d["identifiers"].([]any); ok {
		for _, el := range list {
			switch v := el.(type) {
			case string:
				loc.Identifiers = append(loc.Identifiers, v)
			case map[string]any:
				if code, ok := v["code"].(string); ok {
					loc.Identifiers = append(loc.Identifiers, code)
				}
			}
		}
	}
	return loc
}

// ── Translations ─────────────────────────────────────────────────────────────

// IsToken reports whether s looks like a translatable label token.
func (r *Resolver) IsToken(s string) bool {
	return r.cfg.TokenPrefix != "" && strings.HasPrefix(s, r.cfg.TokenPrefix)
}

// Translate returns the cached translation of token, or token itself.
func (r *Resolver) Translate(token string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.dict[token]; ok {
		return t
	}
	return token
}

// Missing reports whether token has never been looked up.
func (r *Resolver) Missing(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.dict[token]; ok {
		return false
	}
	_, known := r.untrans[token]
	return !known
}

// DictionarySize is the number of cached translations.
func (r *Resolver) DictionarySize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dict)
}

// Unresolved reports how many location ids had no matching record and how
// many tokens have no translation in either language. Both render as
// empty or raw values rather than failing the export.
func (r *Resolver) Unresolved() (locations, tokens int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.unresolved), len(r.untrans)
}

// Backfill looks up every token not seen before, in the requested language
// first and then in the default language. Tokens found in neither are
// remembered so they are never queried again.
func (r *Resolver) Backfill(ctx context.Context, tokens []string) error {
	var want []string
	for _, t := range dedupe(tokens) {
		if t == "" || (r.cfg.TokenPrefix != "" && !r.IsToken(t)) {
			continue
		}
		if r.Missing(t) {
			want = append(want, t)
		}
	}
	if len(want) == 0 {
		return nil
	}
	sort.Strings(want)

	missing, err := r.lookup(ctx, r.cfg.Language, want)
	if err != nil {
		return err
	}
	if len(missing) > 0 && r.cfg.DefaultLanguage != "" && r.cfg.DefaultLanguage != r.cfg.Language {
		if missing, err = r.lookup(ctx, r.cfg.DefaultLanguage, missing); err != nil {
			return err
		}
	}
	r.mu.Lock()
	for _, t := range missing {
		r.untrans[t] = struct{}{}
	}
	r.mu.Unlock()
	return nil
}

// lookup caches the translations of tokens in language and returns the
// tokens it did not find.
func (r *Resolver) lookup(ctx context.Context, language string, tokens []string) ([]string, error) {
	found := make(map[string]string, len(tokens))
	for start := 0; start < len(tokens); start += r.cfg.BatchSize {
		chunk := tokens[start:min(start+r.cfg.BatchSize, len(tokens))]
		vals := make([]any, len(chunk))
		for i, t := range chunk {
			vals[i] = t
		}
		docs, err := r.store.Find(ctx, r.cfg.TokenCollection, filter.And(
			filter.Eq("languageId", language),
			filter.In("token", vals...),
		))
		if err != nil {
			return nil, fmt.Errorf("export: load translations: %w", err)
		}
		for _, d := range docs {
			tok, _ := d["token"].(string)
			tr, ok := d["translation"].(string)
			if tok != "" && ok {
				found[tok] = tr
			}
		}
	}
	r.mu.Lock()
	for tok, tr := range found {
		r.dict[tok] = tr
	}
	r.mu.Unlock()

	var missing []string
	for _, t := range tokens {
		if _, ok := found[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
