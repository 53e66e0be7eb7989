package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// SearchIndex wraps a Bleve index of requests.
//
// All public methods are safe for concurrent use. The mutex protects the
// index handle during Rebuild.
type SearchIndex struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Options configures the search index.
type Options struct {
	DataPath string       // Directory for index storage; empty keeps the index in memory
	Logger   *slog.Logger // Uses discard if nil
}

// mappingVersion is incremented whenever the index mapping changes.
// A mismatch on startup triggers a rebuild.
const mappingVersion = "1"

// NewSearchIndex creates or opens a search index.
// A corrupted index or one with an outdated mapping is removed and recreated
// empty; callers repopulate it with Reindex.
func NewSearchIndex(opts Options) (*SearchIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.DataPath == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return &SearchIndex{index: index, logger: logger}, nil
	}

	if err := os.MkdirAll(opts.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	indexPath := filepath.Join(opts.DataPath, "requests.bleve")
	versionPath := filepath.Join(opts.DataPath, "requests.version")

	var (
		index        bleve.Index
		err          error
		needsRebuild bool
	)

	indexExists := false
	if _, statErr := os.Stat(indexPath); statErr == nil {
		indexExists = true
	}

	if indexExists {
		existingVersion, readErr := os.ReadFile(versionPath)
		if readErr != nil || string(existingVersion) != mappingVersion {
			logger.Info("search index mapping version changed, will rebuild",
				"old_version", string(existingVersion),
				"new_version", mappingVersion,
			)
			needsRebuild = true
		}
	}

	if !needsRebuild && indexExists {
		index, err = bleve.Open(indexPath)
		if err != nil {
			logger.Warn("failed to open existing index, will recreate", "path", indexPath, "error", err)
			needsRebuild = true
		}
	}

	if needsRebuild {
		if removeErr := os.RemoveAll(indexPath); removeErr != nil {
			return nil, fmt.Errorf("remove old index: %w", removeErr)
		}
		index = nil
	}

	if index == nil {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if writeErr := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); writeErr != nil {
			logger.Warn("failed to write search version file", "error", writeErr)
		}
		logger.Info("created new search index", "path", indexPath, "mapping_version", mappingVersion)
	} else {
		logger.Info("opened existing search index", "path", indexPath)
	}

	return &SearchIndex{
		index:  index,
		path:   indexPath,
		logger: logger,
	}, nil
}

// Close closes the index and releases resources.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexRequest adds or replaces the document for r.
func (s *SearchIndex) IndexRequest(_ context.Context, r *domain.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Index(r.ID, DocumentFromRequest(r).ToMap())
}

// IndexRequests indexes many requests in chunked batches.
func (s *SearchIndex) IndexRequests(_ context.Context, reqs []*domain.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const batchSize = 500

	for i := 0; i < len(reqs); i += batchSize {
		end := min(i+batchSize, len(reqs))

		batch := s.index.NewBatch()
		for _, r := range reqs[i:end] {
			if err := batch.Index(r.ID, DocumentFromRequest(r).ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", r.ID, err)
			}
		}
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteRequest removes a request document.
func (s *SearchIndex) DeleteRequest(_ context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Delete(id)
}

// DocumentCount returns the total number of indexed documents.
func (s *SearchIndex) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild drops every document. It holds the exclusive lock, so concurrent
// searches wait until it returns.
func (s *SearchIndex) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	var (
		index bleve.Index
		err   error
	)
	if s.path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
		index, err = bleve.New(s.path, buildIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	s.index = index
	s.logger.Info("rebuilt search index", "path", s.path)
	return nil
}

// RequestLister pages through stored requests.
type RequestLister interface {
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, int, error)
}

// Reindex rebuilds the index from src.
func (s *SearchIndex) Reindex(ctx context.Context, src RequestLister) (int, error) {
	if err := s.Rebuild(); err != nil {
		return 0, err
	}

	const page = 500
	indexed := 0
	for offset := 0; ; offset += page {
		reqs, total, err := src.ListRequests(ctx, domain.RequestFilter{Offset: offset, Limit: page})
		if err != nil {
			return indexed, fmt.Errorf("list requests: %w", err)
		}
		if err := s.IndexRequests(ctx, reqs); err != nil {
			return indexed, err
		}
		indexed += len(reqs)
		if len(reqs) == 0 || offset+len(reqs) >= total {
			break
		}
	}

	s.logger.Info("search index rebuilt from store", "documents", indexed)
	return indexed, nil
}
