package model

import "time"

// TaxonomyRecord is a cached backbone lookup. Found is false when the
// authority had no match, which is cached too.
type TaxonomyRecord struct {
	Name      string            `json:"name"`
	Found     bool              `json:"found"`
	Ranks     map[string]string `json:"ranks,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Fresh reports whether the record is younger than ttl at now.
func (r TaxonomyRecord) Fresh(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(r.FetchedAt) < ttl
}
