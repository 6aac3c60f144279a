package taxon

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/pkg/gnfinder"
)

// speciesName accepts binomials and trinomials, optionally with an
// infraspecific abbreviation.
var speciesName = regexp.MustCompile(`^\s*([A-Z][a-z]+)\s+([a-z]+)(\s+(ssp\.|subsp\.|var\.|f\.)?\s*[a-z]+)?\s*$`)

// FromGNFinder converts finder output to name matches. Names without a
// verification result are Unverified and keep their own name as canonical.
func FromGNFinder(resp *gnfinder.Response) []model.NameMatch {
	if resp == nil {
		return nil
	}
	out := make([]model.NameMatch, 0, len(resp.Names))
	for _, n := range resp.Names {
		name := norm.NFC.String(n.Name)
		m := model.NameMatch{
			Verbatim:         n.Verbatim,
			Name:             name,
			Start:            n.Start,
			End:              n.End,
			MatchType:        model.MatchUnverified,
			MatchedName:      name,
			MatchedCanonical: name,
		}
		if best := n.Best(); best != nil {
			if best.MatchType != "" {
				m.MatchType = best.MatchType
			}
			if best.MatchedName != "" {
				m.MatchedName = best.MatchedName
			}
			if best.MatchedCanonicalFull != "" {
				m.MatchedCanonical = norm.NFC.String(best.MatchedCanonicalFull)
			}
			m.ClassificationPath = best.ClassificationPath
			if m.ClassificationPath == "" {
				m.ClassificationPath = best.ClassificationRanks
			}
		}
		out = append(out, m)
	}
	return out
}

// FilterInitial keeps Exact and Unverified matches whose canonical name is a
// binomial or trinomial. Where an Exact subspecies exists, the Exact bare
// species of the same Genus species group is dropped. Names are deduplicated
// keeping the first.
func FilterInitial(matches []model.NameMatch) []model.NameMatch {
	kept := make([]model.NameMatch, 0, len(matches))
	for _, m := range matches {
		if m.MatchType != model.MatchExact && m.MatchType != model.MatchUnverified {
			continue
		}
		if !speciesName.MatchString(m.MatchedCanonical) {
			continue
		}
		kept = append(kept, m)
	}

	type group struct{ species, sub bool }
	groups := make(map[string]*group)
	for _, m := range kept {
		if m.MatchType != model.MatchExact {
			continue
		}
		parts := strings.Fields(m.MatchedCanonical)
		key := parts[0] + " " + parts[1]
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		if len(parts) >= 3 {
			g.sub = true
		} else {
			g.species = true
		}
	}
	drop := make(map[string]struct{})
	for key, g := range groups {
		if g.sub && g.species {
			drop[key] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(kept))
	out := make([]model.NameMatch, 0, len(kept))
	for _, m := range kept {
		if _, ok := drop[strings.Join(strings.Fields(m.MatchedCanonical), " ")]; ok {
			continue
		}
		if _, dup := seen[m.Name]; dup {
			continue
		}
		seen[m.Name] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Names returns the match names in order.
func Names(matches []model.NameMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Name
	}
	return out
}
