package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/config"
	"github.com/reanm09/intellidocs/pkg/extractor"
	"github.com/reanm09/intellidocs/pkg/ingest"
	"github.com/reanm09/intellidocs/pkg/llm"
	"github.com/reanm09/intellidocs/pkg/processor"
	"github.com/reanm09/intellidocs/pkg/rag"
	"github.com/reanm09/intellidocs/pkg/store"
	"github.com/reanm09/intellidocs/pkg/websearch"
)

// app holds the wired components shared by every command.
type app struct {
	config *config.Config
	logger *slog.Logger

	registry  *store.Registry
	index     types.VectorIndex
	embedder  types.Embedder
	extractor *extractor.Extractor
	processor *processor.Processor
	pipeline  *rag.Pipeline

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.Storage.VectorDriver == "pgvector" || cfg.Storage.RegistryDriver == "postgres" {
		pool, err = store.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
	}

	switch cfg.Storage.VectorDriver {
	case "memory":
		a.index = store.NewMemoryIndex()
	default:
		vs, err := store.NewVectorStore(ctx, store.VectorStoreConfig{
			Pool:      pool,
			TableName: cfg.Database.TableName,
			VectorDim: cfg.Database.VectorDim,
			BatchSize: cfg.Database.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		a.index = vs
		a.closers = append(a.closers, vs.Close)
	}

	switch cfg.Storage.RegistryDriver {
	case "sqlite":
		a.registry, err = store.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	default:
		a.registry, err = store.OpenPostgres(ctx, pool)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	a.closers = append(a.closers, func() { a.registry.Close() })

	a.embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider: cfg.Embedder.Provider,
		Model:    cfg.Embedder.Model,
		BaseURL:  cfg.Embedder.BaseURL,
		ModelDir: cfg.Embedder.ModelDir,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if c, ok := a.embedder.(io.Closer); ok {
		a.closers = append(a.closers, func() { c.Close() })
	}

	chatEngine, err := llm.NewWithConfig(ctx, llm.ChatConfig{
		Model:         cfg.LLM.Model,
		BaseURL:       cfg.LLM.BaseURL,
		GeminiAPIKey:  cfg.LLM.GeminiAPIKey,
		GeminiModel:   cfg.LLM.GeminiModel,
		DisableOllama: cfg.LLM.DisableOllama,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.Timeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	var rewriter types.QueryRewriter
	if model, err := chatEngine.Primary(); err == nil {
		rewriter = llm.NewQueryRewriter(llm.RewriterConfig{
			Model:   model,
			Timeout: cfg.Search.RewriteTimeout,
		})
	}

	searcher, err := websearch.NewWithConfig(websearch.SearchConfig{
		Provider:  cfg.Search.Provider,
		APIKey:    cfg.Search.APIKey,
		Timeout:   cfg.Search.Timeout,
		RateLimit: cfg.Search.RateLimit,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize web search: %w", err)
	}

	a.processor, err = processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Extractor.OCR {
		if err := extractor.CheckAvailable(cfg.Extractor.PdftoppmPath, cfg.Extractor.TesseractPath); err != nil {
			logger.Warn("OCR tools missing, scanned pages will fail to ingest", slog.Any("error", err))
		}
	}
	a.extractor = extractor.NewWithConfig(extractor.ExtractorConfig{
		OCR:           cfg.Extractor.OCR,
		DPI:           cfg.Extractor.DPI,
		PdftoppmPath:  cfg.Extractor.PdftoppmPath,
		TesseractPath: cfg.Extractor.TesseractPath,
		Logger:        logger,
	})

	a.pipeline = rag.NewPipeline(rag.PipelineConfig{
		Orchestrator: rag.NewOrchestrator(rag.OrchestratorConfig{
			Index:          a.index,
			Embedder:       a.embedder,
			Searcher:       searcher,
			Rewriter:       rewriter,
			TopK:           cfg.RAG.TopK,
			WebResults:     cfg.Search.Results,
			RewriteTimeout: cfg.Search.RewriteTimeout,
			WebTimeout:     cfg.Search.Timeout,
			Logger:         logger,
		}),
		Streamer:     rag.NewAnswerStreamer(chatEngine),
		Memory:       a.registry,
		HistoryTurns: cfg.RAG.HistoryTurns,
		Logger:       logger,
	})

	return a, nil
}

func (a *app) newWorker(onProgress func(stage ingest.Stage, done, total int)) (*ingest.Worker, error) {
	return ingest.NewWithConfig(ingest.WorkerConfig{
		Extractor:   a.extractor,
		Chunker:     a.processor,
		Embedder:    a.embedder,
		Index:       a.index,
		Status:      a.registry,
		Concurrency: a.config.Worker.Concurrency,
		QueueSize:   a.config.Worker.QueueSize,
		OnProgress:  onProgress,
		Logger:      a.logger,
	})
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
