package catalog

import (
	"context"
	"strings"
)

const (
	minSuggestQuery   = 2
	maxSuggestTags    = 3
	defaultSuggestMax = 8
)

// Suggestion is a compact search result for type-ahead.
type Suggestion struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	CoverURL    string   `json:"cover_url,omitempty"`
	ReleaseYear int      `json:"release_year,omitempty"`
	Genres      []string `json:"genres"`
	Platforms   []string `json:"platforms"`
}

// Suggest returns type-ahead suggestions. Queries shorter than two
// characters return an empty list without calling the catalog.
func Suggest(ctx context.Context, c Catalog, query string, limit int) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSuggestQuery {
		return []Suggestion{}, nil
	}
	if limit <= 0 {
		limit = defaultSuggestMax
	}

	entries, err := c.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, Suggestion{
			ID:          e.ID,
			Name:        e.Name,
			CoverURL:    CoverURL(e.CoverImageID, CoverSmall),
			ReleaseYear: e.ReleaseYear(),
			Genres:      firstN(e.Genres, maxSuggestTags),
			Platforms:   firstN(e.Platforms, maxSuggestTags),
		})
	}
	return out, nil
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		s = s[:n]
	}
	return append([]string{}, s...)
}
