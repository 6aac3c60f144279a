package model

import "strings"

// Name-finder match types used by the species filters.
const (
	MatchExact      = "Exact"
	MatchUnverified = "Unverified"
)

// Entity is a target name for which structured data is extracted.
type Entity struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NameMatch is one candidate name reported by the name finder.
type NameMatch struct {
	Verbatim           string `json:"verbatim"`
	Name               string `json:"name"`
	Start              int    `json:"start"`
	End                int    `json:"end"`
	MatchType          string `json:"match_type"`
	MatchedName        string `json:"matched_name"`
	MatchedCanonical   string `json:"matched_canonical"`
	ClassificationPath string `json:"classification_path,omitempty"`
}

// Entity converts the match into an extraction target, keeping the
// verification details as metadata.
func (m NameMatch) Entity() Entity {
	md := map[string]string{"match_type": m.MatchType}
	if m.MatchedCanonical != "" {
		md["matched_canonical"] = m.MatchedCanonical
	}
	if m.ClassificationPath != "" {
		md["classification_path"] = m.ClassificationPath
	}
	return Entity{Name: m.Name, Metadata: md}
}

// EntitiesFromNames builds entities from plain names, dropping blanks and
// case-sensitive duplicates while keeping the first occurrence.
func EntitiesFromNames(names []string) []Entity {
	seen := make(map[string]struct{}, len(names))
	out := make([]Entity, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, Entity{Name: n})
	}
	return out
}

// EntityNames returns the names of entities in order.
func EntityNames(entities []Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name
	}
	return out
}
