package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/reanm09/intellidocs/internal/types"
)

const rewriteTemplate = `You are a Search Engine Optimization (SEO) expert.
Convert the following User Question into a concise, effective Google Search Query.

Rules:
1. Remove conversational filler ("Can you tell me", "I was wondering").
2. Remove references to local context ("this document", "the resume", personal names of the author or reader).
3. Focus on the EXTERNAL facts, technologies, or definitions needed to answer the question.
4. Return ONLY the search query string. No quotes.

User Question: %q
Search Query:`

type RewriterConfig struct {
	Model   llms.Model
	Timeout time.Duration
}

// QueryRewriter turns a conversational question into a web search query.
type QueryRewriter struct {
	config RewriterConfig
}

func NewQueryRewriter(config RewriterConfig) *QueryRewriter {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &QueryRewriter{config: config}
}

// Rewrite returns the search query. Callers fall back to the raw question
// on error.
func (r *QueryRewriter) Rewrite(ctx context.Context, query string) (string, error) {
	if r.config.Model == nil {
		return "", types.ErrNoModel
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(ctx, r.config.Model, fmt.Sprintf(rewriteTemplate, query),
		llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("failed to rewrite query: %w", err)
	}

	rewritten := strings.Trim(strings.TrimSpace(out), `"'`)
	if rewritten == "" {
		return "", fmt.Errorf("failed to rewrite query: empty response")
	}
	return rewritten, nil
}
