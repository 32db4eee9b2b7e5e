package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/radutopala/simsearch/internal/encoder"
	"github.com/radutopala/simsearch/internal/vectorindex"
)

var (
	// ErrIndexNotReady is returned when no index has been published yet
	ErrIndexNotReady = errors.New("index not ready")

	// ErrQueryEncode is returned for blank queries or when the query cannot be encoded
	ErrQueryEncode = errors.New("query could not be encoded")
)

const (
	overFetchFactor  = 5
	minCandidatePool = 50
)

// IndexProvider returns the currently published index, or nil
type IndexProvider interface {
	Current() *vectorindex.Index
}

// Options configures an Engine
type Options struct {
	// Timeout bounds encode and rank for one search; zero means unbounded
	Timeout time.Duration
}

// Engine answers nearest-neighbour queries against the published index
type Engine struct {
	encoder encoder.Encoder
	indexes IndexProvider
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates a search engine
func NewEngine(enc encoder.Encoder, indexes IndexProvider, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		encoder: enc,
		indexes: indexes,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Search returns up to k record ids ranked by similarity to query.
// A non-empty subset restricts results to those ids, scanning an over-fetched
// candidate pool of min(max(5k, 50), n); sparse subsets may return fewer than k.
func (e *Engine) Search(ctx context.Context, query string, k int, subset []string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrQueryEncode)
	}

	// Read the snapshot once so a concurrent publish cannot mix indexes
	idx := e.indexes.Current()
	if idx == nil {
		return nil, ErrIndexNotReady
	}

	if k <= 0 || idx.Size() == 0 {
		return []string{}, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()

	vecs, err := e.encoder.Encode(ctx, []string{query})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("search aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrQueryEncode, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: encoder returned %d vectors", ErrQueryEncode, len(vecs))
	}

	var ids []string
	if len(subset) == 0 {
		ids, err = e.topK(idx, vecs[0], k)
	} else {
		ids, err = e.topKInSubset(idx, vecs[0], k, subset)
	}
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("search aborted: %w", ctxErr)
	}

	e.logger.Debug("Search completed",
		"k", k,
		"subset_size", len(subset),
		"results", len(ids),
		"index_size", idx.Size(),
		"duration_ms", time.Since(start).Milliseconds())

	return ids, nil
}

func (e *Engine) topK(idx *vectorindex.Index, vec []float32, k int) ([]string, error) {
	matches, err := idx.Query(vec, k)
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids, nil
}

func (e *Engine) topKInSubset(idx *vectorindex.Index, vec []float32, k int, subset []string) ([]string, error) {
	allowed := make(map[string]struct{}, len(subset))
	for _, id := range subset {
		allowed[id] = struct{}{}
	}

	pool := CandidatePoolSize(k, idx.Size())
	matches, err := idx.Query(vec, pool)
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}

	ids := make([]string, 0, min(k, len(allowed)))
	for _, m := range matches {
		if _, ok := allowed[m.ID]; !ok {
			continue
		}
		ids = append(ids, m.ID)
		if len(ids) == k {
			break
		}
	}

	if len(ids) < k && len(ids) < len(allowed) && pool < idx.Size() {
		e.logger.Debug("Subset search under-returned from candidate pool",
			"k", k,
			"found", len(ids),
			"pool", pool,
			"index_size", idx.Size())
	}

	return ids, nil
}

// CandidatePoolSize returns min(max(k*5, 50), n)
func CandidatePoolSize(k, n int) int {
	if k >= n {
		return n
	}
	return min(max(k*overFetchFactor, minCandidatePool), n)
}
