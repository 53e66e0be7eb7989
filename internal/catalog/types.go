package catalog

import (
	"fmt"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// rawGame is the upstream record. Only fields requested by the queries in
// query.go are decoded; everything else is ignored.
type rawGame struct {
	ID               *int64     `json:"id"`
	Name             *string    `json:"name"`
	Slug             string     `json:"slug"`
	Summary          string     `json:"summary"`
	FirstReleaseDate *int64     `json:"first_release_date"`
	TotalRatingCount *int       `json:"total_rating_count"`
	Cover            *rawCover  `json:"cover"`
	Genres           []namedRef `json:"genres"`
	Platforms        []namedRef `json:"platforms"`
}

type rawCover struct {
	ImageID string `json:"image_id"`
}

type namedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// entry converts a raw record, rejecting records without identity.
func (r *rawGame) entry() (domain.CatalogEntry, error) {
	if r.ID == nil || *r.ID <= 0 {
		return domain.CatalogEntry{}, fmt.Errorf("%w: record without id", ErrDecode)
	}
	if r.Name == nil || *r.Name == "" {
		return domain.CatalogEntry{}, fmt.Errorf("%w: record %d without name", ErrDecode, *r.ID)
	}

	e := domain.CatalogEntry{
		ID:        *r.ID,
		Name:      *r.Name,
		Slug:      r.Slug,
		Summary:   r.Summary,
		Genres:    names(r.Genres),
		Platforms: names(r.Platforms),
	}
	if r.Cover != nil {
		e.CoverImageID = r.Cover.ImageID
	}
	if r.TotalRatingCount != nil {
		e.RatingCount = *r.TotalRatingCount
	}
	if r.FirstReleaseDate != nil && *r.FirstReleaseDate > 0 {
		t := time.Unix(*r.FirstReleaseDate, 0).UTC()
		e.ReleasedAt = &t
	}
	return e, nil
}

func names(refs []namedRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Name != "" {
			out = append(out, r.Name)
		}
	}
	return out
}
