package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/radutopala/simsearch/internal/catalog"
	"github.com/radutopala/simsearch/internal/encoder"
	"github.com/radutopala/simsearch/internal/vectorindex"
)

// Builder turns catalog records into a vector index
type Builder struct {
	source  catalog.Source
	encoder encoder.Encoder
	logger  *slog.Logger
}

// NewBuilder creates a new index builder
func NewBuilder(source catalog.Source, enc encoder.Encoder, logger *slog.Logger) *Builder {
	return &Builder{
		source:  source,
		encoder: enc,
		logger:  logger,
	}
}

// FetchCorpus returns the current catalog records.
// Every failure wraps catalog.ErrUnavailable.
func (b *Builder) FetchCorpus(ctx context.Context) ([]catalog.Item, error) {
	items, err := b.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch corpus: %w", err)
	}
	return items, nil
}

// Build encodes the corpus in one batch and constructs an exhaustive L2 index.
// Items with blank text are skipped. An empty corpus yields an empty index.
func (b *Builder) Build(ctx context.Context, corpus []catalog.Item) (*vectorindex.Index, error) {
	b.logger.Info("Building vector index", "corpus_size", len(corpus))
	start := time.Now()

	ids := make([]string, 0, len(corpus))
	texts := make([]string, 0, len(corpus))
	for _, item := range corpus {
		if strings.TrimSpace(item.Text) == "" {
			b.logger.Warn("Skipping corpus item with blank text", "id", item.ID)
			continue
		}
		ids = append(ids, item.ID)
		texts = append(texts, item.Text)
	}

	if len(texts) == 0 {
		b.logger.Info("Corpus is empty after filtering, publishing empty index")
		return vectorindex.Empty(b.encoder.Dimension()), nil
	}

	vectors, err := b.encoder.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode corpus: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	dim := b.encoder.Dimension()
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector for %s has dimension %d, expected %d", ids[i], len(vec), dim)
		}
	}

	idx, err := vectorindex.New(ids, vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to construct index: %w", err)
	}

	b.logger.Info("Vector index built",
		"indexed", idx.Size(),
		"skipped", len(corpus)-len(texts),
		"dimension", idx.Dimension(),
		"duration_ms", time.Since(start).Milliseconds())

	return idx, nil
}

// Rebuild fetches the corpus and builds a fresh index.
// A fetch failure aborts before anything is encoded.
func (b *Builder) Rebuild(ctx context.Context) (*vectorindex.Index, error) {
	corpus, err := b.FetchCorpus(ctx)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, corpus)
}

// ModelID returns the id of the encoder used for builds
func (b *Builder) ModelID() string {
	return b.encoder.ModelID()
}
