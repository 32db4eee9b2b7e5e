package encoder

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGloVeEncoder_ModelValidation(t *testing.T) {
	_, err := NewGloVeEncoder(context.Background(), "invalid-model", t.TempDir(), nil, quietLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown GloVe model")
}

func TestGloVeEncoder_GenerateWithMockVectors(t *testing.T) {
	enc := &GloVeEncoder{
		name: "test",
		vectors: map[string][]float32{
			"pool":   {0.1, 0.2, 0.3},
			"sauna":  {0.4, 0.5, 0.6},
			"garden": {-0.7, -0.8, -0.9},
		},
		dim:    3,
		logger: quietLogger(),
	}

	vecs, err := enc.Encode(context.Background(), []string{"pool sauna"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], 3)

	// Average of pool and sauna, normalized
	require.Greater(t, vecs[0][0], float32(0.0))
	require.Greater(t, vecs[0][1], float32(0.0))
	require.Greater(t, vecs[0][2], float32(0.0))
}

func TestGloVeEncoder_UnknownWordsAreZero(t *testing.T) {
	enc := &GloVeEncoder{
		vectors: map[string][]float32{"known": {1.0, 2.0, 3.0}},
		dim:     3,
		logger:  quietLogger(),
	}

	vecs, err := enc.Encode(context.Background(), []string{"unknown words", ""})
	require.NoError(t, err)
	for _, vec := range vecs {
		require.Equal(t, []float32{0, 0, 0}, vec)
	}
}

func TestGloVeEncoder_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.txt")
	content := "pool 0.1 0.2 0.3\n" +
		"gym 0.4 0.5 0.6\n" +
		"broken 0.1\n" +
		"badfloat 0.1 x 0.3\n" +
		"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	enc, err := NewGloVeEncoderFromFile("custom", path, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 3, enc.Dimension())
	require.Equal(t, 2, enc.VocabularySize())
	require.Equal(t, "glove:custom", enc.ModelID())
}

func TestGloVeEncoder_FromFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewGloVeEncoderFromFile("empty", path, quietLogger())
	require.Error(t, err)
}

func TestEnsureGloVeFile_DownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("pool 1 0\ngym 0 1\n"))
	}))
	defer srv.Close()

	modelPath := filepath.Join(t.TempDir(), "model.txt")

	require.NoError(t, ensureGloVeFile(context.Background(), srv.URL, modelPath, srv.Client(), quietLogger()))
	require.NoError(t, ensureGloVeFile(context.Background(), srv.URL, modelPath, srv.Client(), quietLogger()))
	require.Equal(t, int32(1), hits.Load())

	data, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "pool 1 0")

	_, err = os.Stat(modelPath + ".part")
	require.True(t, os.IsNotExist(err))
}

func TestEnsureGloVeFile_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	modelPath := filepath.Join(t.TempDir(), "model.txt")
	err := ensureGloVeFile(context.Background(), srv.URL, modelPath, srv.Client(), quietLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	_, err = os.Stat(modelPath)
	require.True(t, os.IsNotExist(err))
}
