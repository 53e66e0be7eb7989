// Package importer turns a batch of free-form game names into completed
// library records.
//
// Every name is resolved through the matcher on a bounded worker pool and
// created with an atomic create-unless-exists, so two names resolving to the
// same game yield one record and one duplicate failure. A batch never aborts
// early: each submitted name ends up either imported or failed with a reason.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamerequest/gamerequest-server/internal/catalog"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/id"
	"github.com/gamerequest/gamerequest-server/internal/matcher"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
)

const (
	DefaultConcurrency  = 5
	MaxConcurrency      = 8
	DefaultMaxBatchSize = 100

	adminNotes = "Automatically imported from library"
)

// Resolver resolves a name to a catalog entry.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*matcher.Match, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateRequestIfAbsent(ctx context.Context, r *domain.Request) (bool, *domain.Request, error)
	ImportStats(ctx context.Context) (*domain.ImportStats, error)
}

// Notifier receives the batch summary event.
type Notifier interface {
	Dispatch(event domain.NotificationEvent) bool
}

// Options configures the orchestrator.
type Options struct {
	Concurrency  int
	MaxBatchSize int
}

// Orchestrator runs import batches.
type Orchestrator struct {
	resolver Resolver
	store    Store
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates an orchestrator. Concurrency is clamped to [1, MaxConcurrency].
func New(resolver Resolver, store Store, notifier Notifier, opts Options, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	opts.Concurrency = min(opts.Concurrency, MaxConcurrency)
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Orchestrator{
		resolver: resolver,
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		metrics:  m,
	}
}

// ImportBatch imports names on behalf of owner, who must be an admin.
//
// Blank names are dropped before processing. When ctx is cancelled, names
// not yet committed are reported as cancelled; records already created stay.
func (o *Orchestrator) ImportBatch(ctx context.Context, names []string, owner domain.Actor) (*BatchResult, error) {
	if !owner.IsAdmin() {
		return nil, domainerrors.Forbidden("only admins can import games")
	}

	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return nil, domainerrors.Validation("no valid game names provided")
	}
	if len(cleaned) > o.opts.MaxBatchSize {
		return nil, domainerrors.Validation(fmt.Sprintf("maximum %d games per import", o.opts.MaxBatchSize))
	}

	batchID := id.NewBatchID()
	logger := o.logger.With("batch_id", batchID, "user_id", owner.UserID)
	logger.Info("import started", "total", len(cleaned), "concurrency", o.opts.Concurrency)
	start := time.Now()

	outcomes := make([]outcome, len(cleaned))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, name := range cleaned {
		if ctx.Err() != nil {
			outcomes[i] = failure(name, ReasonCancelled, msgCancelled)
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.importOne(ctx, name, owner, logger)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{
		BatchID:  batchID,
		Total:    len(cleaned),
		Imported: []ImportedGame{},
		Failed:   []FailedGame{},
	}
	for _, oc := range outcomes {
		if oc.imported != nil {
			res.Imported = append(res.Imported, *oc.imported)
			o.metrics.ImportItem("imported")
			continue
		}
		res.Failed = append(res.Failed, *oc.failed)
		o.metrics.ImportItem(string(oc.failed.Class))
	}

	o.metrics.ImportBatch(time.Since(start))
	logger.Info("import completed",
		"total", res.Total,
		"successful", res.Successful(),
		"failed", res.FailedCount(),
		"duration", time.Since(start),
	)

	event := domain.NewEvent(domain.EventImportCompleted)
	event.Actor = owner.Username
	event.Import = summary(res, owner)
	o.notifier.Dispatch(event)

	if internal := internalFailures(res); len(internal) > 0 {
		event := domain.NewEvent(domain.EventSystemError)
		event.Actor = owner.Username
		event.Error = fmt.Sprintf("Import %s: %d of %d games failed with an internal error. First: %s",
			batchID, len(internal), res.Total, internal[0].Reason)
		o.notifier.Dispatch(event)
	}

	return res, nil
}

func (o *Orchestrator) importOne(ctx context.Context, name string, owner domain.Actor, logger *slog.Logger) outcome {
	if ctx.Err() != nil {
		return failure(name, ReasonCancelled, msgCancelled)
	}

	match, err := o.resolver.Resolve(ctx, name)
	if err != nil {
		oc := classify(name, err)
		logger.Debug("import item not resolved", "name", name, "class", oc.failed.Class, "error", err)
		return oc
	}

	entry := match.Entry
	catalogID := entry.ID
	req := &domain.Request{
		ID:         id.MustGenerate(id.PrefixRequest),
		UserID:     owner.UserID,
		Username:   owner.Username,
		GameName:   entry.Name,
		CatalogID:  &catalogID,
		CoverURL:   catalog.CoverURL(entry.CoverImageID, catalog.CoverBig),
		Genres:     strings.Join(entry.Genres, ", "),
		Status:     domain.StatusCompleted,
		Comment:    importComment(name, entry.Name),
		AdminNotes: adminNotes,
		Source:     domain.SourceImport,
	}
	req.InitTimestamps()

	created, existing, err := o.store.CreateRequestIfAbsent(ctx, req)
	if err != nil {
		oc := classify(name, err)
		if oc.failed.Class == ReasonInternal {
			logger.Error("import item failed", "name", name, "error", err)
		}
		return oc
	}
	if !created {
		args := []any{"name", name, "igdb_id", catalogID}
		if existing != nil {
			args = append(args, "existing_request_id", existing.ID, "existing_status", existing.Status)
		}
		logger.Debug("import item duplicate", args...)
		return failure(name, ReasonDuplicate, msgDuplicate)
	}

	o.metrics.RequestCreated(string(domain.SourceImport), string(domain.StatusCompleted))
	logger.Debug("import item created", "name", name, "resolved", entry.Name, "confidence", match.Confidence)

	return outcome{imported: &ImportedGame{
		OriginalName: name,
		ResolvedName: entry.Name,
		CatalogID:    catalogID,
		Genres:       req.Genres,
		CoverURL:     req.CoverURL,
		RequestID:    req.ID,
		Confidence:   match.Confidence,
	}}
}

func importComment(original, resolved string) string {
	if original == resolved {
		return "Imported from library"
	}
	return fmt.Sprintf("Imported from library. Original name: '%s'", original)
}

// ImportStatus reports how many games were imported and when the last one was.
func (o *Orchestrator) ImportStatus(ctx context.Context) (*domain.ImportStats, error) {
	stats, err := o.store.ImportStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("import stats: %w", err)
	}
	return stats, nil
}
