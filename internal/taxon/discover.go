package taxon

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/pkg/gnfinder"
)

// Discovery is the outcome of name finding over one document.
type Discovery struct {
	Raw             []model.NameMatch `json:"-"`
	RawCount        int               `json:"total_names_identified_raw"`
	Initial         []model.NameMatch `json:"-"`
	InitialCount    int               `json:"count_after_initial_filter"`
	Final           []model.NameMatch `json:"final_species"`
	TaxonomyApplied bool              `json:"taxonomic_filter_applied"`
	Rank            string            `json:"taxonomic_rank,omitempty"`
	Taxon           string            `json:"taxonomic_name,omitempty"`
}

// FinalNames returns the names kept after all filters.
func (d *Discovery) FinalNames() []string {
	return Names(d.Final)
}

// Discover cleans text, sends it to the name finder and applies the initial
// filter. When filter is non-nil and rank and taxon are set, the taxonomy
// filter runs last.
func Discover(ctx context.Context, finder gnfinder.Client, filter *Filter, text, rank, taxon string) (*Discovery, error) {
	resp, err := finder.Find(ctx, Clean(text))
	if err != nil {
		return nil, eris.Wrap(err, "taxon: find names")
	}

	d := &Discovery{Raw: FromGNFinder(resp)}
	d.RawCount = len(d.Raw)
	d.Initial = FilterInitial(d.Raw)
	d.InitialCount = len(d.Initial)
	d.Final = d.Initial

	if filter != nil && rank != "" && taxon != "" && taxon != AnyTaxon {
		d.Final, err = filter.Apply(ctx, d.Initial, rank, taxon, nil)
		if err != nil {
			return nil, err
		}
		d.TaxonomyApplied = true
		d.Rank = rank
		d.Taxon = taxon
	}

	zap.L().Info("taxon: names discovered",
		zap.Int("raw", d.RawCount),
		zap.Int("initial", d.InitialCount),
		zap.Int("final", len(d.Final)),
		zap.Bool("taxonomy_filter", d.TaxonomyApplied),
	)
	return d, nil
}
