// Package matcher resolves free-form game names to a single catalog entry.
package matcher

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/gamerequest/gamerequest-server/internal/catalog"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
)

const (
	DefaultMinConfidence = 0.3
	DefaultSearchLimit   = 10

	tieEpsilon = 1e-9
)

// Options tunes matching.
type Options struct {
	MinConfidence float64
	SearchLimit   int
}

// Match is a resolved catalog entry.
type Match struct {
	Entry      domain.CatalogEntry
	Confidence float64
	// Query is the search term that produced the match, which differs from
	// the input when the cleaned-name retry was used.
	Query string
}

// Matcher scores catalog search results against the submitted name.
type Matcher struct {
	catalog catalog.Catalog
	opts    Options
	logger  *slog.Logger
}

// New creates a matcher over cat.
func New(cat catalog.Catalog, opts Options, logger *slog.Logger) *Matcher {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	return &Matcher{catalog: cat, opts: opts, logger: logger}
}

// Resolve returns the best catalog entry for name. Errors carry the NoMatch,
// CatalogUnavailable or RateLimited codes; context errors pass through.
func (m *Matcher) Resolve(ctx context.Context, name string) (*Match, error) {
	name = strings.TrimSpace(name)
	if Normalize(name) == "" {
		return nil, domainerrors.ErrNoMatch
	}

	query := name
	candidates, err := m.catalog.Search(ctx, query, m.opts.SearchLimit)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		cleaned := CleanName(name)
		if cleaned == "" || cleaned == name {
			return nil, domainerrors.ErrNoMatch
		}
		m.logger.Debug("no candidates, retrying with cleaned name", "name", name, "cleaned", cleaned)
		query = cleaned
		candidates, err = m.catalog.Search(ctx, query, m.opts.SearchLimit)
		if err != nil {
			return nil, err
		}
	}

	best, score := Best(Normalize(query), candidates)
	if best == nil || score < m.opts.MinConfidence {
		m.logger.Debug("no candidate above confidence", "name", name, "best_score", score)
		return nil, domainerrors.ErrNoMatch
	}

	return &Match{Entry: *best, Confidence: score, Query: query}, nil
}

// Best picks the highest-scoring candidate for an already normalized query.
// Ties go to the more popular entry, then to the lower catalog id.
func Best(normalizedQuery string, candidates []domain.CatalogEntry) (*domain.CatalogEntry, float64) {
	var best *domain.CatalogEntry
	bestScore := -1.0

	for i := range candidates {
		c := &candidates[i]
		s := Score(normalizedQuery, Normalize(c.Name))

		switch {
		case best == nil || s > bestScore+tieEpsilon:
		case math.Abs(s-bestScore) <= tieEpsilon && better(c, best):
		default:
			continue
		}
		best, bestScore = c, s
	}

	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

func better(a, b *domain.CatalogEntry) bool {
	if a.RatingCount != b.RatingCount {
		return a.RatingCount > b.RatingCount
	}
	return a.ID < b.ID
}
