package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// GloVeEncoder embeds text by averaging pre-trained GloVe word vectors
type GloVeEncoder struct {
	name    string
	vectors map[string][]float32
	dim     int
	logger  *slog.Logger
}

// GloVeModelConfig holds download information for a GloVe model
type GloVeModelConfig struct {
	URL      string
	Filename string
	Dim      int
}

var gloveModels = map[string]GloVeModelConfig{
	"6B.50d":  {"https://archive.org/download/glove.6B.50d-300d/glove.6B.50d.txt", "glove.6B.50d.txt", 50},
	"6B.100d": {"https://archive.org/download/glove.6B.50d-300d/glove.6B.100d.txt", "glove.6B.100d.txt", 100},
	"6B.200d": {"https://archive.org/download/glove.6B.50d-300d/glove.6B.200d.txt", "glove.6B.200d.txt", 200},
	"6B.300d": {"https://archive.org/download/glove.6B.50d-300d/glove.6B.300d.txt", "glove.6B.300d.txt", 300},
}

// GetGloVeModelConfig returns the configuration for a named GloVe model
func GetGloVeModelConfig(modelName string) (GloVeModelConfig, bool) {
	config, ok := gloveModels[modelName]
	return config, ok
}

// NewGloVeEncoder loads a GloVe model, downloading it into cacheDir on first use.
// The download is guarded by a file lock shared across processes.
func NewGloVeEncoder(ctx context.Context, modelName, cacheDir string, client *http.Client, logger *slog.Logger) (*GloVeEncoder, error) {
	if modelName == "" {
		modelName = "6B.100d"
	}
	modelConfig, ok := gloveModels[modelName]
	if !ok {
		return nil, fmt.Errorf("unknown GloVe model: %s (available: 6B.50d, 6B.100d, 6B.200d, 6B.300d)", modelName)
	}

	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "simsearch-glove")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	modelPath := filepath.Join(cacheDir, modelConfig.Filename)

	if err := ensureGloVeFile(ctx, modelConfig.URL, modelPath, client, logger); err != nil {
		return nil, err
	}

	enc, err := NewGloVeEncoderFromFile(modelName, modelPath, logger)
	if err != nil {
		return nil, err
	}
	if enc.dim != modelConfig.Dim {
		return nil, fmt.Errorf("GloVe model %s has dimension %d, expected %d", modelName, enc.dim, modelConfig.Dim)
	}

	return enc, nil
}

// NewGloVeEncoderFromFile loads GloVe vectors from a local text file
func NewGloVeEncoderFromFile(name, path string, logger *slog.Logger) (*GloVeEncoder, error) {
	vectors, dim, err := loadGloVeVectors(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load GloVe vectors: %w", err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("GloVe file %s contains no vectors", path)
	}

	logger.Info("GloVe encoder ready", "model", name, "vocabulary_size", len(vectors), "dimension", dim)

	return &GloVeEncoder{
		name:    name,
		vectors: vectors,
		dim:     dim,
		logger:  logger,
	}, nil
}

// ensureGloVeFile downloads the model unless it is already cached
func ensureGloVeFile(ctx context.Context, url, modelPath string, client *http.Client, logger *slog.Logger) error {
	lock := flock.New(modelPath + ".lock")
	locked, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("cannot acquire model cache lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("model cache lock %s is held by another process", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(modelPath); err == nil {
		logger.Info("Using cached GloVe model", "path", modelPath)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	logger.Info("GloVe model not found, downloading...", "url", url, "path", modelPath)
	if err := downloadGloVe(ctx, url, modelPath, client, logger); err != nil {
		return fmt.Errorf("failed to download GloVe model: %w", err)
	}
	return nil
}

// downloadGloVe writes to a temporary file and renames it, so an interrupted
// download never leaves a truncated model in the cache
func downloadGloVe(ctx context.Context, url, destPath string, client *http.Client, logger *slog.Logger) error {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move model into cache: %w", err)
	}

	logger.Info("Download complete", "size_mb", written/(1024*1024))
	return nil
}

// loadGloVeVectors parses "word v1 v2 ..." lines. The first well-formed line
// fixes the dimension; lines of another width or with bad floats are skipped.
func loadGloVeVectors(path string, logger *slog.Logger) (map[string][]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	vectors := make(map[string][]float32)
	dim := 0

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineCount := 0
	skipped := 0
	for scanner.Scan() {
		lineCount++
		if lineCount%100000 == 0 {
			logger.Debug("Loading GloVe vectors...", "loaded", lineCount)
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			skipped++
			continue
		}
		if dim == 0 {
			dim = len(parts) - 1
		}
		if len(parts)-1 != dim {
			skipped++
			continue
		}

		vec, ok := parseFloats(parts[1:])
		if !ok {
			skipped++
			continue
		}
		vectors[parts[0]] = vec
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}

	if skipped > 0 {
		logger.Warn("Skipped malformed GloVe lines", "skipped", skipped)
	}

	return vectors, dim, nil
}

func parseFloats(fields []string) ([]float32, bool) {
	vec := make([]float32, len(fields))
	for i, s := range fields {
		val, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, false
		}
		vec[i] = float32(val)
	}
	return vec, true
}

// Encode averages the vectors of known words in each text
func (e *GloVeEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *GloVeEncoder) embed(text string) []float32 {
	embedding := make([]float32, e.dim)
	count := 0

	for _, word := range tokenize(text) {
		vec, ok := e.vectors[word]
		if !ok {
			continue
		}
		for i := 0; i < e.dim; i++ {
			embedding[i] += vec[i]
		}
		count++
	}

	if count == 0 {
		return embedding
	}
	for i := range embedding {
		embedding[i] /= float32(count)
	}

	return normalize(embedding)
}

// Dimension returns the embedding dimension
func (e *GloVeEncoder) Dimension() int {
	return e.dim
}

// ModelID returns "glove:<name>"
func (e *GloVeEncoder) ModelID() string {
	return "glove:" + e.name
}

// VocabularySize returns the number of words in the vocabulary
func (e *GloVeEncoder) VocabularySize() int {
	return len(e.vectors)
}
