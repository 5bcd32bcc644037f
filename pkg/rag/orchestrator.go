package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

const SnippetLength = 200

type OrchestratorConfig struct {
	Index    types.VectorIndex
	Embedder types.Embedder
	Searcher types.WebSearcher  // optional
	Rewriter types.QueryRewriter // optional

	TopK           int
	WebResults     int
	RewriteTimeout time.Duration
	WebTimeout     time.Duration // bounds the search call alone
	Logger         *slog.Logger
}

// Orchestrator gathers PDF hits and, in hybrid mode, web results.
type Orchestrator struct {
	config OrchestratorConfig
	logger *slog.Logger
}

type Request struct {
	Query      string
	Collection string
	Mode       models.Mode
	TopK       int // 0 means the configured default
	WebResults int
}

type RetrievalContext struct {
	PDFChunks  []models.RetrievalHit
	WebSources []models.WebResult
}

type Retrieval struct {
	Sources models.SourceBundle
	Context RetrievalContext
}

func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.WebResults <= 0 {
		config.WebResults = 3
	}
	if config.RewriteTimeout <= 0 {
		config.RewriteTimeout = 5 * time.Second
	}
	if config.WebTimeout <= 0 {
		config.WebTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Orchestrator{
		config: config,
		logger: config.Logger,
	}
}

// Run retrieves context for req. A missing collection and every web-side
// failure degrade to empty lists; only embedding or index failures are
// returned as errors.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Retrieval, error) {
	if req.TopK <= 0 {
		req.TopK = o.config.TopK
	}
	if req.WebResults <= 0 {
		req.WebResults = o.config.WebResults
	}
	if req.Mode == "" {
		req.Mode = models.ModeDiscrete
	}

	var (
		pdf Outcome[[]models.RetrievalHit]
		web Outcome[[]models.WebResult]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pdf = Call(gctx, func(ctx context.Context) ([]models.RetrievalHit, error) {
			return o.searchDocument(ctx, req)
		})
		switch pdf.Reason {
		case ReasonNone:
			return nil
		case ReasonMissing:
			o.logger.Info("collection not indexed, continuing without PDF context",
				slog.String("collection", req.Collection))
			return nil
		}
		return pdf.Err
	})

	if req.Mode == models.ModeHybrid {
		g.Go(func() error {
			web = Call(gctx, func(ctx context.Context) ([]models.WebResult, error) {
				return o.searchWeb(ctx, req.Query, req.WebResults)
			})
			if !web.OK() {
				o.logger.Warn("web search degraded to no results",
					slog.String("reason", string(web.Reason)),
					slog.Any("error", web.Err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to retrieve document context: %w", err)
	}

	hits := pdf.Or(nil)
	webResults := web.Or(nil)
	if len(webResults) > req.WebResults {
		webResults = webResults[:req.WebResults]
	}

	return &Retrieval{
		Sources: models.SourceBundle{
			PDF: pdfSources(hits),
			Web: append([]models.WebResult{}, webResults...),
		},
		Context: RetrievalContext{
			PDFChunks:  hits,
			WebSources: webResults,
		},
	}, nil
}

func (o *Orchestrator) searchDocument(ctx context.Context, req Request) ([]models.RetrievalHit, error) {
	embedding, err := o.config.Embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return o.config.Index.Query(ctx, req.Collection, embedding, req.TopK)
}

func (o *Orchestrator) searchWeb(ctx context.Context, query string, n int) ([]models.WebResult, error) {
	if o.config.Searcher == nil {
		return nil, types.ErrNoCredentials
	}

	searchQuery := o.rewrite(ctx, query)

	ctx, cancel := context.WithTimeout(ctx, o.config.WebTimeout)
	defer cancel()
	return o.config.Searcher.Search(ctx, searchQuery, n)
}

// rewrite returns the search-engine form of query, or query itself when
// rewriting is unavailable or fails.
func (o *Orchestrator) rewrite(ctx context.Context, query string) string {
	if o.config.Rewriter == nil {
		return query
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.RewriteTimeout)
	defer cancel()

	rewritten := Call(ctx, func(ctx context.Context) (string, error) {
		return o.config.Rewriter.Rewrite(ctx, query)
	})
	if !rewritten.OK() {
		o.logger.Warn("query rewrite failed, using original query",
			slog.String("reason", string(rewritten.Reason)),
			slog.Any("error", rewritten.Err))
		return query
	}

	o.logger.Debug("rewrote query", slog.String("from", query), slog.String("to", rewritten.Value))
	return rewritten.Value
}

func pdfSources(hits []models.RetrievalHit) []models.PDFSource {
	sources := make([]models.PDFSource, 0, len(hits))
	for _, hit := range hits {
		sources = append(sources, models.PDFSource{
			Type:    "pdf",
			Page:    hit.Page(),
			Snippet: snippet(hit.Text),
		})
	}
	return sources
}

func snippet(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	runes := []rune(text)
	if len(runes) > SnippetLength {
		return string(runes[:SnippetLength])
	}
	return text
}
