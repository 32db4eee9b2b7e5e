package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// ErrModelLoad is returned when an embedding model cannot be loaded.
// It is fatal: the process must not serve search traffic without a model.
var ErrModelLoad = errors.New("model load failed")

// Encoder turns text into fixed-dimension vectors
type Encoder interface {
	// Encode returns one vector per text, in input order
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of produced vectors
	Dimension() int

	// ModelID identifies the loaded model, e.g. "hashing:512"
	ModelID() string
}

// Options configures model loading
type Options struct {
	APIKey     string
	BaseURL    string
	CacheDir   string
	BatchSize  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultModel is used when no model identifier is configured
const DefaultModel = "hashing:512"

// Load resolves a model identifier of the form "<scheme>[:<name>]".
// Supported schemes: hashing, glove, openai.
func Load(ctx context.Context, model string, opts Options) (Encoder, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}

	scheme, name, _ := strings.Cut(model, ":")

	var (
		enc Encoder
		err error
	)

	switch scheme {
	case "hashing":
		dim := defaultHashingDimension
		if name != "" {
			dim, err = strconv.Atoi(name)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid hashing dimension %q", ErrModelLoad, name)
			}
		}
		enc, err = NewHashingEncoder(dim)
	case "glove":
		enc, err = NewGloVeEncoder(ctx, name, opts.CacheDir, opts.HTTPClient, opts.Logger)
	case "openai":
		enc, err = NewOpenAIEncoder(ctx, OpenAIConfig{
			Model:      name,
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			BatchSize:  opts.BatchSize,
			HTTPClient: opts.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported model %q (available: hashing, glove, openai)", ErrModelLoad, model)
	}
	if err != nil {
		if errors.Is(err, ErrModelLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, model, err)
	}

	opts.Logger.Info("Encoder loaded", "model", enc.ModelID(), "dimension", enc.Dimension())
	return enc, nil
}
