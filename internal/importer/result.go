package importer

import (
	"context"
	"errors"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
)

// ReasonClass groups failures so callers can decide what to resubmit.
type ReasonClass string

const (
	ReasonNoMatch            ReasonClass = "no_match"
	ReasonCatalogUnavailable ReasonClass = "catalog_unavailable"
	ReasonRateLimited        ReasonClass = "rate_limited"
	ReasonDuplicate          ReasonClass = "duplicate"
	ReasonCancelled          ReasonClass = "cancelled"
	ReasonInternal           ReasonClass = "internal"
)

// Retryable reports whether resubmitting a name that failed with c can
// succeed without anything else changing.
func (c ReasonClass) Retryable() bool {
	switch c {
	case ReasonCatalogUnavailable, ReasonRateLimited, ReasonCancelled:
		return true
	}
	return false
}

// Reason messages shown to the importing admin.
const (
	msgNoMatch     = "No matching game found in catalog"
	msgDuplicate   = "already in library/already requested"
	msgUnavailable = "Catalog service unavailable, try again later"
	msgRateLimited = "Catalog rate limit reached, try again later"
	msgCancelled   = "Import cancelled before this game was processed"
)

// ImportedGame is one successfully created library entry.
type ImportedGame struct {
	OriginalName string  `json:"original_name"`
	ResolvedName string  `json:"igdb_name"`
	CatalogID    int64   `json:"igdb_id"`
	Genres       string  `json:"genres,omitempty"`
	CoverURL     string  `json:"cover_url,omitempty"`
	RequestID    string  `json:"request_id"`
	Confidence   float64 `json:"confidence"`
}

// FailedGame is one name that produced no record.
type FailedGame struct {
	Name   string      `json:"name"`
	Reason string      `json:"reason"`
	Class  ReasonClass `json:"reason_class"`
}

// BatchResult is the outcome of one import. Imported and Failed together
// cover every submitted name, each list in submission order.
type BatchResult struct {
	BatchID  string         `json:"batch_id"`
	Total    int            `json:"total_games"`
	Imported []ImportedGame `json:"imported_games"`
	Failed   []FailedGame   `json:"failed_games"`
}

// Successful returns the number of created records.
func (r *BatchResult) Successful() int { return len(r.Imported) }

// FailedCount returns the number of names that produced no record.
func (r *BatchResult) FailedCount() int { return len(r.Failed) }

// FailedByClass counts failures per reason class.
func (r *BatchResult) FailedByClass() map[ReasonClass]int {
	out := make(map[ReasonClass]int)
	for _, f := range r.Failed {
		out[f.Class]++
	}
	return out
}

// outcome is the per-name slot filled by a worker.
type outcome struct {
	imported *ImportedGame
	failed   *FailedGame
}

func failure(name string, class ReasonClass, reason string) outcome {
	return outcome{failed: &FailedGame{Name: name, Reason: reason, Class: class}}
}

// classify maps a resolver or store error onto a reason class.
func classify(name string, err error) outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failure(name, ReasonCancelled, msgCancelled)
	}
	switch domainerrors.CodeOf(err) {
	case domainerrors.CodeNoMatch:
		return failure(name, ReasonNoMatch, msgNoMatch)
	case domainerrors.CodeCatalogUnavailable, domainerrors.CodeNotFound:
		return failure(name, ReasonCatalogUnavailable, msgUnavailable)
	case domainerrors.CodeRateLimited:
		return failure(name, ReasonRateLimited, msgRateLimited)
	case domainerrors.CodeDuplicateRequest, domainerrors.CodeAlreadyExists:
		return failure(name, ReasonDuplicate, msgDuplicate)
	default:
		return failure(name, ReasonInternal, "Error during import: "+err.Error())
	}
}

func internalFailures(res *BatchResult) []FailedGame {
	var out []FailedGame
	for _, f := range res.Failed {
		if f.Class == ReasonInternal {
			out = append(out, f)
		}
	}
	return out
}

func summary(res *BatchResult, owner domain.Actor) *domain.ImportSummary {
	return &domain.ImportSummary{
		BatchID:    res.BatchID,
		Total:      res.Total,
		Successful: res.Successful(),
		Failed:     res.FailedCount(),
		ImportedBy: owner.Username,
	}
}
