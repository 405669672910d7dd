// Package authority decides which dataset source governs each calendar date.
// For dates covered by more than one source's validity window, the source
// with the numerically lowest priority rank wins. The rule is general: known
// historical overlap periods need no special-casing, boundary dates resolve
// through the same comparison as any other date.
package authority

import (
	"time"

	"github.com/avelinec/hlpipe/internal/domain"
)

// Resolver resolves date authority over a static dataset catalog. It is a
// pure value type; build a new Resolver whenever the catalog changes.
type Resolver struct {
	sources []domain.DatasetSource
}

// NewResolver creates a Resolver over the given catalog. The catalog is
// assumed to have passed config validation (no priority ties between
// overlapping windows).
func NewResolver(sources []domain.DatasetSource) *Resolver {
	return &Resolver{sources: sources}
}

// AuthorityFor returns the source governing the given date, or ok=false when
// no source's window covers it.
func (r *Resolver) AuthorityFor(date time.Time) (domain.DatasetSource, bool) {
	var best domain.DatasetSource
	found := false
	for _, s := range r.sources {
		if !s.Covers(date) {
			continue
		}
		if !found || s.Priority < best.Priority {
			best = s
			found = true
		}
	}
	return best, found
}

// Sources returns the catalog the resolver was built over.
func (r *Resolver) Sources() []domain.DatasetSource {
	return r.sources
}

// Window returns the earliest start and latest end across the catalog. The
// second return is false for an empty catalog.
func (r *Resolver) Window() (start, end time.Time, ok bool) {
	for _, s := range r.sources {
		if !ok {
			start, end, ok = s.Start, s.End, true
			continue
		}
		if s.Start.Before(start) {
			start = s.Start
		}
		if s.End.After(end) {
			end = s.End
		}
	}
	return start, end, ok
}
