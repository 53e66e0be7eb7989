// Package search keeps a Bleve full-text index of request names. It backs
// the admin request search and best-effort duplicate detection for requests
// that were never resolved to a catalog id.
package search

import (
	"strings"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// RequestDocument is the indexed form of a request.
type RequestDocument struct {
	ID        string   `json:"id"`
	GameName  string   `json:"game_name"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username,omitempty"`
	Status    string   `json:"status"`
	Source    string   `json:"source"`
	Genres    []string `json:"genres,omitempty"`
	CatalogID int64    `json:"catalog_id,omitempty"`
	CreatedAt int64    `json:"created_at"` // Unix millis
}

// DocumentFromRequest builds the index document for r.
func DocumentFromRequest(r *domain.Request) *RequestDocument {
	doc := &RequestDocument{
		ID:        r.ID,
		GameName:  r.GameName,
		UserID:    r.UserID,
		Username:  r.Username,
		Status:    string(r.Status),
		Source:    string(r.Source),
		CreatedAt: r.CreatedAt.UnixMilli(),
	}
	if r.CatalogID != nil {
		doc.CatalogID = *r.CatalogID
	}
	for _, g := range strings.Split(r.Genres, ",") {
		if g = strings.TrimSpace(g); g != "" {
			doc.Genres = append(doc.Genres, strings.ToLower(g))
		}
	}
	return doc
}

// ToMap converts the document to a map whose keys match the index mapping.
func (d *RequestDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":         d.ID,
		"game_name":  d.GameName,
		"user_id":    d.UserID,
		"status":     d.Status,
		"source":     d.Source,
		"created_at": d.CreatedAt,
	}
	if d.Username != "" {
		m["username"] = d.Username
	}
	if len(d.Genres) > 0 {
		m["genres"] = d.Genres
	}
	if d.CatalogID != 0 {
		m["catalog_id"] = d.CatalogID
	}
	return m
}
