package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reanm09/intellidocs/internal/testutil"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/llm"
)

func TestRewrite(t *testing.T) {
	model := &testutil.FakeModel{Fragments: []string{"  \"emperor penguin diet\"\n"}}
	rw := llm.NewQueryRewriter(llm.RewriterConfig{Model: model})

	got, err := rw.Rewrite(context.Background(), "Can you tell me what the penguins in this document eat?")

	require.NoError(t, err)
	assert.Equal(t, "emperor penguin diet", got)
	require.Len(t, model.Prompts(), 1)
	assert.Contains(t, model.Prompts()[0], "Search Engine Optimization")
	assert.Contains(t, model.Prompts()[0], "penguins in this document eat?")
}

func TestRewriteFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *testutil.FakeModel
	}{
		{"model error", &testutil.FakeModel{Err: errors.New("503")}},
		{"empty output", &testutil.FakeModel{Fragments: []string{"   "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := llm.NewQueryRewriter(llm.RewriterConfig{Model: tt.model})
			got, err := rw.Rewrite(context.Background(), "q")
			assert.Error(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRewriteWithoutModel(t *testing.T) {
	rw := llm.NewQueryRewriter(llm.RewriterConfig{})
	_, err := rw.Rewrite(context.Background(), "q")
	assert.ErrorIs(t, err, types.ErrNoModel)
}
