package taxon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/pkg/gbif"
	"github.com/sells-group/ecoparse/pkg/gnfinder"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"parentheses", "Zandhagedis (Lacerta agilis)", "Zandhagedis Lacerta agilis"},
		{"brackets", "[Species list: Homo sapiens]", "Species list: Homo sapiens"},
		{"figure", "See (Fig. 1)", "See Fig. 1"},
		{"nested", "a (b (Lynx lynx) c) d", "a b Lynx lynx c d"},
		{"markers", "=== PAGE 1 ===\n<!-- Page 1: 2 columns detected -->\n\n=== COLUMN 1 ===\nArdea cinerea", "Ardea cinerea"},
		{"tables", "--- TABLES ON PAGE 3 ---\nTable 1:\nCanis lupus", "Canis lupus"},
		{"punctuation", "Lynx lynx ,Canis lupus;Ursus arctos", "Lynx lynx, Canis lupus; Ursus arctos"},
		{"nfc", "Rana dalmatina – zaštičena", "Rana dalmatina – zaštičena"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestFromGNFinder(t *testing.T) {
	resp := &gnfinder.Response{Names: []gnfinder.Name{
		{
			Verbatim: "Lacerta agilis", Name: "Lacerta agilis", Start: 1, End: 15,
			Verification: &gnfinder.Verification{BestResult: &gnfinder.BestResult{
				MatchType: "Exact", MatchedName: "Lacerta agilis Linnaeus, 1758",
				MatchedCanonicalFull: "Lacerta agilis", ClassificationRanks: "kingdom|phylum",
			}},
		},
		{Verbatim: "Foo bar", Name: "Foo bar"},
	}}

	got := FromGNFinder(resp)
	require.Len(t, got, 2)
	assert.Equal(t, model.MatchExact, got[0].MatchType)
	assert.Equal(t, "Lacerta agilis Linnaeus, 1758", got[0].MatchedName)
	assert.Equal(t, "kingdom|phylum", got[0].ClassificationPath)
	assert.Equal(t, model.MatchUnverified, got[1].MatchType)
	assert.Equal(t, "Foo bar", got[1].MatchedCanonical)
	assert.Nil(t, FromGNFinder(nil))
}

func match(name, canonical, matchType string) model.NameMatch {
	return model.NameMatch{Name: name, MatchedCanonical: canonical, MatchType: matchType}
}

func TestFilterInitial(t *testing.T) {
	in := []model.NameMatch{
		match("Lacerta agilis", "Lacerta agilis", model.MatchExact),
		match("Lacerta agilis agilis", "Lacerta agilis agilis", model.MatchExact),
		match("Canis lupus", "Canis lupus", model.MatchUnverified),
		match("Canis lupus familiaris", "Canis lupus familiaris", model.MatchUnverified),
		match("Ardea", "Ardea", model.MatchExact),
		match("Ardea cinerea", "Ardea cinerea", "Fuzzy"),
		match("Bufo bufo", "Bufo bufo", model.MatchExact),
		match("Bufo bufo", "Bufo bufo", model.MatchExact),
		match("Rosa canina var. dumalis", "Rosa canina var. dumalis", model.MatchExact),
		match("homo sapiens", "homo sapiens", model.MatchExact),
	}

	got := Names(FilterInitial(in))
	assert.Equal(t, []string{
		"Lacerta agilis agilis",
		"Canis lupus",
		"Canis lupus familiaris",
		"Bufo bufo",
		"Rosa canina var. dumalis",
	}, got)
}

type mockLookup struct{ mock.Mock }

func (m *mockLookup) Match(ctx context.Context, name string) (*gbif.Match, error) {
	args := m.Called(ctx, name)
	if v := args.Get(0); v != nil {
		return v.(*gbif.Match), args.Error(1)
	}
	return nil, args.Error(1)
}

type memCache struct {
	recs   map[string]model.TaxonomyRecord
	writes int
}

func (c *memCache) GetTaxonomy(_ context.Context, name string) (*model.TaxonomyRecord, error) {
	rec, ok := c.recs[name]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c *memCache) SetTaxonomy(_ context.Context, rec model.TaxonomyRecord) error {
	c.recs[rec.Name] = rec
	c.writes++
	return nil
}

func TestFilterApply(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("Match", mock.Anything, "Ardea cinerea").Return(&gbif.Match{MatchType: "EXACT", Class: "Aves"}, nil).Once()
	lookup.On("Match", mock.Anything, "Lynx lynx").Return(&gbif.Match{MatchType: "EXACT", Class: "Mammalia"}, nil).Once()
	lookup.On("Match", mock.Anything, "Unknown thing").Return(nil, nil).Once()
	lookup.On("Match", mock.Anything, "Broken name").Return(nil, errors.New("boom")).Once()

	cache := &memCache{recs: map[string]model.TaxonomyRecord{}}
	f := NewFilter(lookup, cache, time.Hour)

	in := []model.NameMatch{
		match("Ardea cinerea", "", model.MatchExact),
		match("Lynx lynx", "", model.MatchExact),
		match("Unknown thing", "", model.MatchUnverified),
		match("Broken name", "", model.MatchUnverified),
	}

	var calls int
	got, err := f.Apply(context.Background(), in, "Class", "aves", func(done, total int) {
		calls++
		assert.Equal(t, 4, total)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ardea cinerea", "Unknown thing", "Broken name"}, Names(got))
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, cache.writes)

	// Second pass is served from the cache.
	got, err = f.Apply(context.Background(), in[:3], "class", "Aves", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	lookup.AssertExpectations(t)
}

func TestFilterApply_Disabled(t *testing.T) {
	f := NewFilter(&mockLookup{}, nil, time.Hour)
	in := []model.NameMatch{match("Lynx lynx", "", model.MatchExact)}

	for _, taxon := range []string{"", "any", "ANY"} {
		got, err := f.Apply(context.Background(), in, "class", taxon, nil)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestFilterLookup_StaleCache(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	lookup := &mockLookup{}
	lookup.On("Match", mock.Anything, "Lynx lynx").Return(&gbif.Match{MatchType: "EXACT", Class: "Mammalia"}, nil).Once()

	cache := &memCache{recs: map[string]model.TaxonomyRecord{
		"Lynx lynx": {Name: "Lynx lynx", Found: false, FetchedAt: now.Add(-48 * time.Hour)},
	}}
	f := NewFilter(lookup, cache, 24*time.Hour)
	f.now = func() time.Time { return now }

	rec, err := f.Lookup(context.Background(), "Lynx lynx")
	require.NoError(t, err)
	assert.True(t, rec.Found)
	assert.Equal(t, "Mammalia", rec.Ranks["class"])
	assert.Equal(t, now, cache.recs["Lynx lynx"].FetchedAt)
}

func TestFilterLookup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookup := &mockLookup{}
	lookup.On("Match", mock.Anything, "Lynx lynx").Return(nil, context.Canceled)

	_, err := NewFilter(lookup, nil, time.Hour).Lookup(ctx, "Lynx lynx")
	require.Error(t, err)
}

type stubFinder struct {
	resp *gnfinder.Response
	err  error
	text string
}

func (s *stubFinder) Find(_ context.Context, text string) (*gnfinder.Response, error) {
	s.text = text
	return s.resp, s.err
}

func TestDiscover(t *testing.T) {
	finder := &stubFinder{resp: &gnfinder.Response{Names: []gnfinder.Name{
		{Name: "Ardea cinerea", Verification: &gnfinder.Verification{BestResult: &gnfinder.BestResult{MatchType: "Exact", MatchedCanonicalFull: "Ardea cinerea"}}},
		{Name: "Lynx lynx"},
		{Name: "Aves"},
	}}}

	lookup := &mockLookup{}
	lookup.On("Match", mock.Anything, "Ardea cinerea").Return(&gbif.Match{MatchType: "EXACT", Class: "Aves"}, nil)
	lookup.On("Match", mock.Anything, "Lynx lynx").Return(&gbif.Match{MatchType: "EXACT", Class: "Mammalia"}, nil)

	d, err := Discover(context.Background(), finder, NewFilter(lookup, nil, time.Hour),
		"=== PAGE 1 ===\nHeron (Ardea cinerea) and Lynx lynx", "class", "Aves")
	require.NoError(t, err)
	assert.Equal(t, "Heron Ardea cinerea and Lynx lynx", finder.text)
	assert.Equal(t, 3, d.RawCount)
	assert.Equal(t, 2, d.InitialCount)
	assert.True(t, d.TaxonomyApplied)
	assert.Equal(t, []string{"Ardea cinerea"}, d.FinalNames())

	d, err = Discover(context.Background(), finder, nil, "text", "", "")
	require.NoError(t, err)
	assert.False(t, d.TaxonomyApplied)
	assert.Len(t, d.Final, 2)

	_, err = Discover(context.Background(), &stubFinder{err: errors.New("down")}, nil, "text", "", "")
	require.Error(t, err)
}
