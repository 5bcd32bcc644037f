// Package testutil holds in-memory stand-ins for models, embedders and
// search providers.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"

	"github.com/reanm09/intellidocs/internal/models"
)

// FakeModel implements llms.Model. It streams Fragments through the
// streaming option when one is set, then returns Err if non-nil.
type FakeModel struct {
	Fragments []string
	Err       error
	// Block makes every call wait for context cancellation.
	Block bool

	mu      sync.Mutex
	prompts []string
}

func (m *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt.String())
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if opts.StreamingFunc != nil {
		for _, f := range m.Fragments {
			if err := opts.StreamingFunc(ctx, []byte(f)); err != nil {
				return nil, err
			}
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: strings.Join(m.Fragments, "")}},
	}, nil
}

func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Prompts returns every prompt the model received.
func (m *FakeModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// FakeEmbedder hashes words into a small normalised bag-of-words vector, so
// texts sharing words land close together.
type FakeEmbedder struct {
	Dim int
	Err error
}

func (e *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *FakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim == 0 {
		dim = 16
	}

	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// FakeSearcher returns canned web results.
type FakeSearcher struct {
	Results []models.WebResult
	Err     error

	mu      sync.Mutex
	queries []string
}

func (s *FakeSearcher) Search(ctx context.Context, query string, n int) ([]models.WebResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.Err != nil {
		return nil, s.Err
	}
	if n < len(s.Results) {
		return s.Results[:n], nil
	}
	return s.Results, nil
}

func (s *FakeSearcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// FakeRewriter returns Output or Err. With Block set it waits for the
// context to end.
type FakeRewriter struct {
	Output string
	Err    error
	Block  bool
}

func (r *FakeRewriter) Rewrite(ctx context.Context, query string) (string, error) {
	if r.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if r.Err != nil {
		return "", r.Err
	}
	if r.Output == "" {
		return query, nil
	}
	return r.Output, nil
}
