package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/radutopala/simsearch/internal/lifecycle"
	"github.com/radutopala/simsearch/internal/searchclient"
)

const defaultEndpoint = "http://localhost:8001/mcp"

var (
	flagEndpoint    string
	flagTimeout     time.Duration
	flagJSON        bool
	flagSearchLimit int
	flagSearchIDs   []string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find records similar to a free-text query on a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show model and index readiness of a running server",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Ask a running server to rebuild its index",
	Args:  cobra.NoArgs,
	RunE:  runRebuild,
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, healthCmd, rebuildCmd} {
		c.Flags().StringVar(&flagEndpoint, "endpoint", defaultEndpoint, "MCP endpoint of the simsearch server")
		c.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "Request timeout")
		c.Flags().BoolVar(&flagJSON, "json", false, "Print raw JSON")
		rootCmd.AddCommand(c)
	}
	searchCmd.Flags().IntVarP(&flagSearchLimit, "limit", "k", 0, "Number of ids to return (default: server setting)")
	searchCmd.Flags().StringSliceVar(&flagSearchIDs, "ids", nil, "Restrict results to these record ids (comma separated)")
}

// dial connects to the server named by --endpoint; the caller closes the client
func dial(ctx context.Context) (*searchclient.Client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := searchclient.Dial(ctx, searchclient.Config{URL: flagEndpoint}, logger)
	if err != nil {
		return nil, fmt.Errorf("cannot reach %s: %w", flagEndpoint, err)
	}
	return client, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ids, err := client.Search(ctx, strings.Join(args, " "), flagSearchLimit, flagSearchIDs)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"similar_project_ids": ids})
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No similar records found.")
		return nil
	}
	for i, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, id)
	}
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	h, err := client.Health(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), h)
	}
	printHealth(cmd.OutOrStdout(), h)
	return nil
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	client, err := dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	accepted, err := client.Rebuild(ctx)
	if err != nil {
		return err
	}

	status := "accepted"
	if !accepted {
		status = "already_running"
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{"status": status})
	}
	if accepted {
		fmt.Fprintln(cmd.OutOrStdout(), "Rebuild started.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "A rebuild is already running.")
	}
	return nil
}

func printHealth(w io.Writer, h lifecycle.Health) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Status:\t%s\n", h.Status)
	fmt.Fprintf(tw, "State:\t%s\n", h.State)
	fmt.Fprintf(tw, "Model:\t%s (loaded: %t, dim %d)\n", emptyAsNA(h.ModelID), h.ModelLoaded, h.Dimension)
	fmt.Fprintf(tw, "Index ready:\t%t\n", h.IndexReady)
	fmt.Fprintf(tw, "Vectors:\t%d\n", h.VectorCount)
	fmt.Fprintf(tw, "Build:\t%s\n", emptyAsNA(h.BuildID))
	if h.LastError != "" {
		fmt.Fprintf(tw, "Last error:\t%s\n", h.LastError)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
