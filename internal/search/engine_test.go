package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radutopala/simsearch/internal/catalog"
	"github.com/radutopala/simsearch/internal/encoder"
	"github.com/radutopala/simsearch/internal/indexer"
	"github.com/radutopala/simsearch/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// staticProvider serves whatever index it currently points at
type staticProvider struct {
	idx atomic.Pointer[vectorindex.Index]
}

func (p *staticProvider) Current() *vectorindex.Index {
	return p.idx.Load()
}

// scalarEncoder maps a numeric text to a one-dimensional vector
type scalarEncoder struct{}

func (scalarEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", text)
		}
		out[i] = []float32{float32(v)}
	}
	return out, nil
}

func (scalarEncoder) Dimension() int  { return 1 }
func (scalarEncoder) ModelID() string { return "scalar" }

// blockingEncoder waits for the context to end
type blockingEncoder struct{ scalarEncoder }

func (blockingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// EngineTestSuite is the test suite for Engine
type EngineTestSuite struct {
	suite.Suite
	logger   *slog.Logger
	ctx      context.Context
	provider *staticProvider
	engine   *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	s.ctx = context.Background()

	hashing, err := encoder.NewHashingEncoder(512)
	require.NoError(s.T(), err)

	builder := indexer.NewBuilder(nil, hashing, s.logger)
	idx, err := builder.Build(s.ctx, []catalog.Item{
		{ID: "A", Text: "pool gym"},
		{ID: "B", Text: "garden playground"},
		{ID: "C", Text: "pool sauna"},
	})
	require.NoError(s.T(), err)

	s.provider = &staticProvider{}
	s.provider.idx.Store(idx)
	s.engine = NewEngine(hashing, s.provider, Options{}, s.logger)
}

func (s *EngineTestSuite) TestSearch_RanksSharedTermsFirst() {
	ids, err := s.engine.Search(s.ctx, "swimming pool", 2, nil)
	require.NoError(s.T(), err)
	require.Len(s.T(), ids, 2)
	require.ElementsMatch(s.T(), []string{"A", "C"}, ids)

	ids, err = s.engine.Search(s.ctx, "swimming pool", 3, nil)
	require.NoError(s.T(), err)
	require.Equal(s.T(), "B", ids[2])
}

func (s *EngineTestSuite) TestSearch_SubsetOnly() {
	ids, err := s.engine.Search(s.ctx, "anything", 3, []string{"B"})
	require.NoError(s.T(), err)
	require.Equal(s.T(), []string{"B"}, ids)
}

func (s *EngineTestSuite) TestSearch_SubsetKeepsRelativeOrder() {
	full, err := s.engine.Search(s.ctx, "pool sauna", 3, nil)
	require.NoError(s.T(), err)
	require.Equal(s.T(), "C", full[0])

	subset, err := s.engine.Search(s.ctx, "pool sauna", 3, []string{"B", "C", "unknown"})
	require.NoError(s.T(), err)
	require.Equal(s.T(), []string{"C", "B"}, subset)
}

func (s *EngineTestSuite) TestSearch_EmptySubsetMeansUnrestricted() {
	ids, err := s.engine.Search(s.ctx, "pool", 3, []string{})
	require.NoError(s.T(), err)
	require.Len(s.T(), ids, 3)
}

func (s *EngineTestSuite) TestSearch_BlankQuery() {
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := s.engine.Search(s.ctx, q, 3, nil)
		require.ErrorIs(s.T(), err, ErrQueryEncode)
	}
}

func (s *EngineTestSuite) TestSearch_NotReady() {
	engine := NewEngine(scalarEncoder{}, &staticProvider{}, Options{}, s.logger)

	_, err := engine.Search(s.ctx, "pool", 3, nil)
	require.ErrorIs(s.T(), err, ErrIndexNotReady)
}

func (s *EngineTestSuite) TestSearch_EmptyIndexReturnsEmpty() {
	s.provider.idx.Store(vectorindex.Empty(512))

	ids, err := s.engine.Search(s.ctx, "pool", 3, nil)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), ids)
	require.Empty(s.T(), ids)
}

func (s *EngineTestSuite) TestSearch_NonPositiveLimit() {
	ids, err := s.engine.Search(s.ctx, "pool", 0, nil)
	require.NoError(s.T(), err)
	require.Empty(s.T(), ids)
}

func (s *EngineTestSuite) TestSearch_EncoderFailureIsQueryEncodeError() {
	engine := NewEngine(scalarEncoder{}, s.provider, Options{}, s.logger)

	_, err := engine.Search(s.ctx, "not a number", 1, nil)
	require.ErrorIs(s.T(), err, ErrQueryEncode)
}

func (s *EngineTestSuite) TestSearch_Timeout() {
	engine := NewEngine(blockingEncoder{}, s.provider, Options{Timeout: 20 * time.Millisecond}, s.logger)

	_, err := engine.Search(s.ctx, "pool", 1, nil)
	require.ErrorIs(s.T(), err, context.DeadlineExceeded)
	require.False(s.T(), errors.Is(err, ErrQueryEncode))
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

// scalarIndex builds n records "r0".."r{n-1}" at positions 0..n-1
func scalarIndex(t *testing.T, prefix string, n int) *vectorindex.Index {
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s%d", prefix, i)
		vecs[i] = []float32{float32(i)}
	}
	idx, err := vectorindex.New(ids, vecs)
	require.NoError(t, err)
	return idx
}

func TestSearch_OverFetchPool(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	provider := &staticProvider{}
	provider.idx.Store(scalarIndex(t, "r", 200))
	engine := NewEngine(scalarEncoder{}, provider, Options{}, logger)
	ctx := context.Background()

	// Unrestricted ranking is ascending by position
	ids, err := engine.Search(ctx, "0", 3, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"r0", "r1", "r2"}, ids)

	// k=1 gives a pool of 50: r49 is inside, r50 is not
	ids, err = engine.Search(ctx, "0", 1, []string{"r49"})
	require.NoError(t, err)
	require.Equal(t, []string{"r49"}, ids)

	ids, err = engine.Search(ctx, "0", 1, []string{"r50"})
	require.NoError(t, err)
	require.Empty(t, ids)

	// k=20 gives a pool of 100
	ids, err = engine.Search(ctx, "0", 20, []string{"r150", "r99", "r7"})
	require.NoError(t, err)
	require.Equal(t, []string{"r7", "r99"}, ids)

	// Stops at k in rank order
	ids, err = engine.Search(ctx, "0", 2, []string{"r9", "r3", "r5"})
	require.NoError(t, err)
	require.Equal(t, []string{"r3", "r5"}, ids)
}

func TestCandidatePoolSize(t *testing.T) {
	cases := []struct{ k, n, want int }{
		{k: 1, n: 1000, want: 50},
		{k: 10, n: 1000, want: 50},
		{k: 11, n: 1000, want: 55},
		{k: 100, n: 1000, want: 500},
		{k: 300, n: 1000, want: 1000},
		{k: 5, n: 3, want: 3},
		{k: 1, n: 20, want: 20},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CandidatePoolSize(tc.k, tc.n), "k=%d n=%d", tc.k, tc.n)
	}
}

func TestSearch_ConcurrentPublishNeverMixesSnapshots(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	oldIdx := scalarIndex(t, "old-", 100)
	newIdx := scalarIndex(t, "new-", 100)

	provider := &staticProvider{}
	provider.idx.Store(oldIdx)
	engine := NewEngine(scalarEncoder{}, provider, Options{}, logger)

	stop := make(chan struct{})
	var swapper sync.WaitGroup
	swapper.Add(1)
	go func() {
		defer swapper.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				provider.idx.Store(newIdx)
			} else {
				provider.idx.Store(oldIdx)
			}
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 8; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 200; i++ {
				ids, err := engine.Search(context.Background(), "10", 10, nil)
				if !assert.NoError(t, err) || !assert.Len(t, ids, 10) {
					return
				}
				prefix := ids[0][:4]
				for _, id := range ids {
					assert.True(t, strings.HasPrefix(id, prefix), "mixed snapshot result: %v", ids)
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	swapper.Wait()
}
