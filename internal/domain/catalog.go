package domain

import "time"

// CatalogEntry is an external catalog's record for one game.
// Entries are immutable once fetched.
type CatalogEntry struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug,omitempty"`
	CoverImageID string     `json:"cover_image_id,omitempty"`
	Genres       []string   `json:"genres,omitempty"`
	Platforms    []string   `json:"platforms,omitempty"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
	RatingCount  int        `json:"rating_count,omitempty"`
	Summary      string     `json:"summary,omitempty"`
}

// ReleaseYear returns the release year, or 0 when unknown.
func (e *CatalogEntry) ReleaseYear() int {
	if e.ReleasedAt == nil {
		return 0
	}
	return e.ReleasedAt.Year()
}

// HasCover reports whether the entry carries a cover image reference.
func (e *CatalogEntry) HasCover() bool {
	return e.CoverImageID != ""
}
