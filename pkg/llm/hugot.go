package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

type HugotConfig struct {
	Model    string // Hugging Face model name
	ModelDir string
	Logger   *slog.Logger
}

// HugotEmbedder runs a sentence transformer in process with the pure Go backend.
type HugotEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.Mutex
}

func NewHugotEmbedder(config HugotConfig) (*HugotEmbedder, error) {
	if config.Model == "" {
		config.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if config.ModelDir == "" {
		config.ModelDir = "./models"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	modelPath, err := prepareModel(config)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "intellidocs-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &HugotEmbedder{
		session:  session,
		pipeline: pipeline,
	}, nil
}

// prepareModel downloads the model on first use and returns its local path.
func prepareModel(config HugotConfig) (string, error) {
	modelPath := filepath.Join(config.ModelDir, strings.ReplaceAll(config.Model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model path: %w", err)
	}

	if err := os.MkdirAll(config.ModelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	config.Logger.Info("downloading embedding model", slog.String("model", config.Model))
	options := hugot.NewDownloadOptions()
	options.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(config.Model, config.ModelDir, options)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloaded, nil
}

func (h *HugotEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	result, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

func (h *HugotEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := h.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (h *HugotEmbedder) Close() error {
	return h.session.Destroy()
}
