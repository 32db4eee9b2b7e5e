package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrUnavailable wraps every failure to obtain a usable corpus from the catalog
var ErrUnavailable = errors.New("catalog unavailable")

// Item is one indexable record
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Source provides the corpus to index
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

const (
	DefaultPath      = "/projects/amenities_data"
	DefaultTextField = "text"
	DefaultTimeout   = 30 * time.Second

	maxBodyBytes = 64 << 20
)

// HTTPConfig configures an HTTPSource
type HTTPConfig struct {
	BaseURL   string
	Path      string
	TextField string
	Timeout   time.Duration
	Client    *http.Client
}

// HTTPSource fetches the corpus from the catalog data service
type HTTPSource struct {
	url       string
	textField string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPSource creates a catalog source reading GET {BaseURL}{Path}
func NewHTTPSource(cfg HTTPConfig, logger *slog.Logger) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog base URL is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.TextField == "" {
		cfg.TextField = DefaultTextField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	return &HTTPSource{
		url:       strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
		textField: cfg.TextField,
		timeout:   cfg.Timeout,
		client:    cfg.Client,
		logger:    logger,
	}, nil
}

// Fetch performs one bounded request. Any failure is reported as ErrUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(truncate(string(body), 200)))
	}

	items, err := Decode(body, s.textField)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.logger.Info("Fetched catalog corpus", "url", s.url, "items", len(items), "duration_ms", time.Since(start).Milliseconds())
	return items, nil
}

// FileSource reads the corpus from a JSON file in the same format as the HTTP endpoint
type FileSource struct {
	path      string
	textField string
	logger    *slog.Logger
}

// NewFileSource creates a catalog source backed by a local file
func NewFileSource(path, textField string, logger *slog.Logger) *FileSource {
	if textField == "" {
		textField = DefaultTextField
	}
	return &FileSource{path: path, textField: textField, logger: logger}
}

// Fetch reads and decodes the file
func (s *FileSource) Fetch(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	items, err := Decode(data, s.textField)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, s.path, err)
	}

	s.logger.Info("Loaded catalog corpus from file", "path", s.path, "items", len(items))
	return items, nil
}

// Decode parses a JSON array of records. A single malformed record rejects the whole payload.
func Decode(data []byte, textField string) ([]Item, error) {
	if textField == "" {
		textField = DefaultTextField
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("malformed response: expected a JSON array")
	}

	var records []map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	items := make([]Item, 0, len(records))
	for i, record := range records {
		id, err := stringField(record, "id")
		if err != nil {
			return nil, fmt.Errorf("malformed record %d: %w", i, err)
		}
		if id == "" {
			return nil, fmt.Errorf("malformed record %d: empty id", i)
		}

		text, err := stringField(record, textField)
		if err != nil {
			return nil, fmt.Errorf("malformed record %d (id %s): %w", i, id, err)
		}

		items = append(items, Item{ID: id, Text: text})
	}

	return items, nil
}

func stringField(record map[string]json.RawMessage, name string) (string, error) {
	raw, ok := record[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	var s string
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", fmt.Errorf("field %q is null", name)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q is not a string", name)
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
