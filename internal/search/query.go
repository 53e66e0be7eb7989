package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query    string
	UserID   string                 // restrict to one requester
	Statuses []domain.RequestStatus // OR across statuses

	Limit  int
	Offset int

	SortBy        string // "relevance" (default) or "recent"
	IncludeFacets bool
	Highlight     bool
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string       `json:"query"`
	Total  uint64       `json:"total"`
	TookMs int64        `json:"took_ms"`
	Hits   []SearchHit  `json:"hits"`
	Facets SearchFacets `json:"facets,omitzero"`
}

// SearchHit represents a single matching request.
type SearchHit struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	GameName   string            `json:"game_name"`
	UserID     string            `json:"user_id"`
	Username   string            `json:"username,omitempty"`
	Status     string            `json:"status"`
	Source     string            `json:"source"`
	CatalogID  int64             `json:"igdb_id,omitempty"`
	Highlights map[string]string `json:"highlights,omitempty"`
}

// SearchFacets contains facet counts.
type SearchFacets struct {
	Statuses []FacetCount `json:"statuses,omitempty"`
	Genres   []FacetCount `json:"genres,omitempty"`
}

// FacetCount represents a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = 20
	}

	searchRequest := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)

	if params.SortBy == "recent" {
		searchRequest.SortBy([]string{"-created_at"})
	} else {
		searchRequest.SortBy([]string{"-_score", "-created_at"})
	}

	if params.IncludeFacets {
		searchRequest.AddFacet("status", bleve.NewFacetRequest("status", 4))
		searchRequest.AddFacet("genres", bleve.NewFacetRequest("genres", 20))
	}
	if params.Highlight {
		searchRequest.Highlight = bleve.NewHighlight()
		searchRequest.Highlight.AddField("game_name")
	}

	searchRequest.Fields = []string{"game_name", "user_id", "username", "status", "source", "catalog_id"}

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(searchResult.Hits)),
	}

	for _, hit := range searchResult.Hits {
		h := SearchHit{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["game_name"].(string); ok {
			h.GameName = v
		}
		if v, ok := hit.Fields["user_id"].(string); ok {
			h.UserID = v
		}
		if v, ok := hit.Fields["username"].(string); ok {
			h.Username = v
		}
		if v, ok := hit.Fields["status"].(string); ok {
			h.Status = v
		}
		if v, ok := hit.Fields["source"].(string); ok {
			h.Source = v
		}
		if v, ok := hit.Fields["catalog_id"].(float64); ok {
			h.CatalogID = int64(v)
		}
		if len(hit.Fragments) > 0 {
			h.Highlights = make(map[string]string)
			for field, fragments := range hit.Fragments {
				if len(fragments) > 0 {
					h.Highlights[field] = fragments[0]
				}
			}
		}
		result.Hits = append(result.Hits, h)
	}

	if params.IncludeFacets {
		result.Facets = extractFacets(searchResult)
	}

	return result, nil
}

// SimilarActive returns the user's active requests whose names contain every
// term of name. It is a cheap pre-filter; callers score the hits themselves.
func (s *SearchIndex) SimilarActive(ctx context.Context, userID, name string) ([]SearchHit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	match := bleve.NewMatchQuery(name)
	match.SetField("game_name")
	match.SetOperator(query.MatchQueryOperatorAnd)

	q := bleve.NewConjunctionQuery(match, termQuery("user_id", userID), statusQuery(domain.StatusPending, domain.StatusApproved))

	req := bleve.NewSearchRequestOptions(q, 10, 0, false)
	req.Fields = []string{"game_name", "status"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := SearchHit{ID: hit.ID, Score: hit.Score, UserID: userID}
		h.GameName, _ = hit.Fields["game_name"].(string)
		h.Status, _ = hit.Fields["status"].(string)
		hits = append(hits, h)
	}
	return hits, nil
}

// buildSearchQuery constructs the Bleve query from params.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	if params.Query != "" {
		nameMatch := bleve.NewMatchQuery(params.Query)
		nameMatch.SetField("game_name")
		nameMatch.SetBoost(3.0)

		// Typo tolerance on the game name.
		fuzzy := bleve.NewMatchQuery(params.Query)
		fuzzy.SetField("game_name")
		fuzzy.SetFuzziness(1)
		fuzzy.SetBoost(0.8)

		userMatch := bleve.NewMatchQuery(params.Query)
		userMatch.SetField("username")
		userMatch.SetBoost(1.0)

		textQueries := []query.Query{nameMatch, fuzzy, userMatch}

		// Prefix query for autocomplete.
		if len(params.Query) >= 2 && !strings.Contains(params.Query, " ") {
			prefix := bleve.NewPrefixQuery(strings.ToLower(params.Query))
			prefix.SetField("game_name")
			prefix.SetBoost(0.5)
			textQueries = append(textQueries, prefix)
		}

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if params.UserID != "" {
		queries = append(queries, termQuery("user_id", params.UserID))
	}
	if len(params.Statuses) > 0 {
		queries = append(queries, statusQuery(params.Statuses...))
	}

	if len(queries) == 0 {
		return bleve.NewMatchAllQuery()
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}

func termQuery(field, value string) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

func statusQuery(statuses ...domain.RequestStatus) query.Query {
	qs := make([]query.Query, len(statuses))
	for i, st := range statuses {
		qs[i] = termQuery("status", string(st))
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// extractFacets converts Bleve facets to our format.
func extractFacets(result *bleve.SearchResult) SearchFacets {
	var facets SearchFacets

	if f, ok := result.Facets["status"]; ok && f.Terms != nil {
		for _, term := range f.Terms.Terms() {
			facets.Statuses = append(facets.Statuses, FacetCount{Value: term.Term, Count: term.Count})
		}
	}
	if f, ok := result.Facets["genres"]; ok && f.Terms != nil {
		for _, term := range f.Terms.Terms() {
			facets.Genres = append(facets.Genres, FacetCount{Value: term.Term, Count: term.Count})
		}
	}
	return facets
}
