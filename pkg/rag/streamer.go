package rag

import (
	"context"
	"strings"

	"github.com/reanm09/intellidocs/pkg/llm"
)

// Generator produces answer fragments for a prompt. *llm.ChatEngine is the
// production implementation.
type Generator interface {
	ChatStream(ctx context.Context, prompt llm.Prompt) *llm.Stream
}

// AnswerStreamer builds the bounded prompt and starts generation.
type AnswerStreamer struct {
	generator Generator
}

func NewAnswerStreamer(generator Generator) *AnswerStreamer {
	return &AnswerStreamer{generator: generator}
}

func (a *AnswerStreamer) Stream(ctx context.Context, in PromptInput) *Answer {
	return &Answer{stream: a.generator.ChatStream(ctx, llm.FormatPrompt(in))}
}

// PromptInput is re-exported so callers only need this package.
type PromptInput = llm.PromptInput

// Answer forwards fragments unchanged and keeps their concatenation.
// It can be consumed once.
type Answer struct {
	stream *llm.Stream
	text   strings.Builder
}

func (a *Answer) Next() bool {
	if !a.stream.Next() {
		return false
	}
	a.text.WriteString(a.stream.Fragment())
	return true
}

func (a *Answer) Fragment() string {
	return a.stream.Fragment()
}

func (a *Answer) Err() error {
	return a.stream.Err()
}

// Close stops generation early.
func (a *Answer) Close() {
	a.stream.Close()
}

// Text is everything yielded so far.
func (a *Answer) Text() string {
	return a.text.String()
}
