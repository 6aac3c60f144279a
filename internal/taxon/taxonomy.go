package taxon

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/pkg/gbif"
)

// AnyTaxon disables the taxonomy filter.
const AnyTaxon = "any"

// Cache persists backbone lookups between runs. GetTaxonomy returns a nil
// record when name was never cached.
type Cache interface {
	GetTaxonomy(ctx context.Context, name string) (*model.TaxonomyRecord, error)
	SetTaxonomy(ctx context.Context, rec model.TaxonomyRecord) error
}

// Filter keeps names belonging to one taxon at a given rank.
type Filter struct {
	lookup gbif.Client
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewFilter creates a taxonomy filter. cache may be nil.
func NewFilter(lookup gbif.Client, cache Cache, ttl time.Duration) *Filter {
	return &Filter{lookup: lookup, cache: cache, ttl: ttl, now: time.Now}
}

// Apply keeps matches whose rank value equals taxon case-insensitively, and
// matches whose taxonomy is unknown. An empty rank or taxon, or taxon "any",
// returns matches unchanged. progress, when set, is called after each name.
func (f *Filter) Apply(ctx context.Context, matches []model.NameMatch, rank, taxon string, progress func(done, total int)) ([]model.NameMatch, error) {
	rank = strings.ToLower(strings.TrimSpace(rank))
	taxon = strings.TrimSpace(taxon)
	if len(matches) == 0 || rank == "" || taxon == "" || strings.EqualFold(taxon, AnyTaxon) {
		return matches, nil
	}

	out := make([]model.NameMatch, 0, len(matches))
	for i, m := range matches {
		rec, err := f.Lookup(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		if !rec.Found || strings.EqualFold(rec.Ranks[rank], taxon) {
			out = append(out, m)
		}
		if progress != nil {
			progress(i+1, len(matches))
		}
	}

	zap.L().Info("taxon: taxonomy filter applied",
		zap.String("rank", rank),
		zap.String("taxon", taxon),
		zap.Int("before", len(matches)),
		zap.Int("after", len(out)),
	)
	return out, nil
}

// Lookup returns the classification of name from the cache when fresh, or
// from the backbone otherwise. Lookup failures other than cancellation are
// treated as an unknown taxonomy.
func (f *Filter) Lookup(ctx context.Context, name string) (model.TaxonomyRecord, error) {
	if f.cache != nil {
		rec, err := f.cache.GetTaxonomy(ctx, name)
		if err != nil {
			zap.L().Warn("taxon: cache read failed", zap.String("name", name), zap.Error(err))
		} else if rec != nil && rec.Fresh(f.now(), f.ttl) {
			return *rec, nil
		}
	}

	rec := model.TaxonomyRecord{Name: name, FetchedAt: f.now().UTC()}
	m, err := f.lookup.Match(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return rec, eris.Wrap(ctx.Err(), "taxon: lookup cancelled")
		}
		zap.L().Warn("taxon: backbone lookup failed", zap.String("name", name), zap.Error(err))
		return rec, nil
	}
	if m != nil {
		rec.Found = true
		rec.Ranks = m.Ranks()
	}

	if f.cache != nil {
		if err := f.cache.SetTaxonomy(ctx, rec); err != nil {
			zap.L().Warn("taxon: cache write failed", zap.String("name", name), zap.Error(err))
		}
	}
	return rec, nil
}
