package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/radutopala/simsearch/internal/httpapi"
	"github.com/radutopala/simsearch/internal/lifecycle"
	"github.com/radutopala/simsearch/internal/mcp"
)

type stubBackend struct {
	rebuildOK atomic.Bool
}

func (b *stubBackend) Search(ctx context.Context, query string, limit int, subset []string) ([]string, error) {
	if len(subset) > 0 {
		return subset[:1], nil
	}
	return []string{"A", "C"}, nil
}

func (b *stubBackend) Health() lifecycle.Health {
	return lifecycle.Health{Status: "ok", ModelLoaded: true, IndexReady: true, VectorCount: 3, State: lifecycle.StateReady, ModelID: "hashing:512", Dimension: 512}
}

func (b *stubBackend) TriggerRebuild() bool { return b.rebuildOK.Load() }

// CLITestSuite runs client commands against an in-process HTTP server
type CLITestSuite struct {
	suite.Suite
	server  *httptest.Server
	backend *stubBackend
}

func (s *CLITestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.backend = &stubBackend{}
	s.backend.rebuildOK.Store(true)
	mcpServer := mcp.NewSearchServer("test-server", "1.0.0", s.backend, logger)
	s.server = httptest.NewServer(httpapi.NewHandler(s.backend, mcpServer.HTTPHandler(), logger))
}

func (s *CLITestSuite) TearDownTest() {
	s.server.Close()
}

// execute runs the root command with fresh flag values and returns stdout
func (s *CLITestSuite) execute(args ...string) (string, error) {
	flagEndpoint = defaultEndpoint
	flagTimeout = 30 * time.Second
	flagJSON = false
	flagSearchLimit = 0
	flagSearchIDs = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (s *CLITestSuite) endpoint() string {
	return s.server.URL + "/mcp"
}

func (s *CLITestSuite) TestSearch() {
	out, err := s.execute("search", "--endpoint", s.endpoint(), "swimming", "pool")
	require.NoError(s.T(), err)
	require.Equal(s.T(), "1. A\n2. C\n", out)
}

func (s *CLITestSuite) TestSearch_JSONWithSubset() {
	out, err := s.execute("search", "--endpoint", s.endpoint(), "--json", "--ids", "C,B", "pool")
	require.NoError(s.T(), err)

	var resp map[string][]string
	require.NoError(s.T(), json.Unmarshal([]byte(out), &resp))
	require.Equal(s.T(), []string{"C"}, resp["similar_project_ids"])
}

func (s *CLITestSuite) TestHealth() {
	out, err := s.execute("health", "--endpoint", s.endpoint())
	require.NoError(s.T(), err)
	require.Contains(s.T(), out, "Index ready:")
	require.Contains(s.T(), out, "hashing:512")
}

func (s *CLITestSuite) TestRebuild() {
	out, err := s.execute("rebuild", "--endpoint", s.endpoint())
	require.NoError(s.T(), err)
	require.Contains(s.T(), out, "Rebuild started.")

	s.backend.rebuildOK.Store(false)
	out, err = s.execute("rebuild", "--endpoint", s.endpoint(), "--json")
	require.NoError(s.T(), err)
	require.JSONEq(s.T(), `{"status":"already_running"}`, out)
}

func (s *CLITestSuite) TestVersion() {
	out, err := s.execute("version")
	require.NoError(s.T(), err)
	require.Contains(s.T(), out, "Version:    dev")
}

func TestCLITestSuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func TestPrintHealth_LastError(t *testing.T) {
	var out bytes.Buffer
	printHealth(&out, lifecycle.Health{Status: "degraded", State: lifecycle.StateDegraded, LastError: "catalog unavailable"})

	require.Contains(t, out.String(), "degraded")
	require.Contains(t, out.String(), "Last error:")
	require.Contains(t, out.String(), "catalog unavailable")
	require.Contains(t, out.String(), "n/a")
}
