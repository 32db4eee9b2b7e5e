package indexer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/radutopala/simsearch/internal/catalog"
	"github.com/radutopala/simsearch/internal/encoder"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type staticSource struct {
	items []catalog.Item
	err   error
}

func (s *staticSource) Fetch(ctx context.Context) ([]catalog.Item, error) {
	return s.items, s.err
}

// countingEncoder wraps an encoder and records how many texts it was asked to encode
type countingEncoder struct {
	encoder.Encoder
	calls int
	texts int
	err   error
}

func (c *countingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	if c.err != nil {
		return nil, c.err
	}
	return c.Encoder.Encode(ctx, texts)
}

// BuilderTestSuite is the test suite for Builder
type BuilderTestSuite struct {
	suite.Suite
	logger  *slog.Logger
	encoder *countingEncoder
	ctx     context.Context
}

func (s *BuilderTestSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	hashing, err := encoder.NewHashingEncoder(64)
	require.NoError(s.T(), err)

	s.encoder = &countingEncoder{Encoder: hashing}
	s.ctx = context.Background()
}

func (s *BuilderTestSuite) TestBuild_SkipsBlankText() {
	builder := NewBuilder(&staticSource{}, s.encoder, s.logger)

	idx, err := builder.Build(s.ctx, []catalog.Item{
		{ID: "A", Text: "pool gym"},
		{ID: "B", Text: "   "},
		{ID: "C", Text: ""},
		{ID: "D", Text: "pool sauna"},
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), 2, idx.Size())
	require.Equal(s.T(), 64, idx.Dimension())
	require.Equal(s.T(), []string{"A", "D"}, idx.IDs())

	// One batch for the whole corpus
	require.Equal(s.T(), 1, s.encoder.calls)
	require.Equal(s.T(), 2, s.encoder.texts)
}

func (s *BuilderTestSuite) TestBuild_EmptyCorpus() {
	builder := NewBuilder(&staticSource{}, s.encoder, s.logger)

	for _, corpus := range [][]catalog.Item{nil, {{ID: "A", Text: " "}}} {
		idx, err := builder.Build(s.ctx, corpus)
		require.NoError(s.T(), err)
		require.Equal(s.T(), 0, idx.Size())
		require.Equal(s.T(), 64, idx.Dimension())

		matches, err := idx.Query(make([]float32, 64), 5)
		require.NoError(s.T(), err)
		require.Empty(s.T(), matches)
	}
	require.Equal(s.T(), 0, s.encoder.calls)
}

func (s *BuilderTestSuite) TestBuild_EncoderFailure() {
	s.encoder.err = errors.New("accelerator lost")
	builder := NewBuilder(&staticSource{}, s.encoder, s.logger)

	_, err := builder.Build(s.ctx, []catalog.Item{{ID: "A", Text: "pool"}})
	require.Error(s.T(), err)
	require.Contains(s.T(), err.Error(), "accelerator lost")
}

func (s *BuilderTestSuite) TestRebuild_FetchFailureSkipsEncoding() {
	source := &staticSource{err: catalog.ErrUnavailable}
	builder := NewBuilder(source, s.encoder, s.logger)

	idx, err := builder.Rebuild(s.ctx)
	require.ErrorIs(s.T(), err, catalog.ErrUnavailable)
	require.Nil(s.T(), idx)
	require.Equal(s.T(), 0, s.encoder.calls)
}

func (s *BuilderTestSuite) TestRebuild_Success() {
	source := &staticSource{items: []catalog.Item{
		{ID: "A", Text: "pool gym"},
		{ID: "B", Text: "garden playground"},
		{ID: "C", Text: "pool sauna"},
	}}
	builder := NewBuilder(source, s.encoder, s.logger)

	idx, err := builder.Rebuild(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 3, idx.Size())
	require.Equal(s.T(), "hashing:64", builder.ModelID())
}

func TestBuilderTestSuite(t *testing.T) {
	suite.Run(t, new(BuilderTestSuite))
}
