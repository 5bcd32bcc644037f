package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reanm09/intellidocs/internal/testutil"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/llm"
)

func newEngine(t *testing.T, backends ...llm.Backend) *llm.ChatEngine {
	t.Helper()
	engine, err := llm.NewWithConfig(context.Background(), llm.ChatConfig{
		Temperature: 0.2,
		Backends:    backends,
	})
	require.NoError(t, err)
	return engine
}

func drain(t *testing.T, s *llm.Stream) []string {
	t.Helper()
	defer s.Close()
	var out []string
	for s.Next() {
		out = append(out, s.Fragment())
	}
	require.NoError(t, s.Err())
	return out
}

func TestNewWithConfig(t *testing.T) {
	engine, err := llm.NewWithConfig(context.Background(), llm.ChatConfig{
		Model:       "testmodel",
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	})
	assert.NoError(t, err)
	assert.NotNil(t, engine)

	model, err := engine.Primary()
	assert.NoError(t, err)
	assert.NotNil(t, model)
}

func TestNewWithConfigValidation(t *testing.T) {
	_, err := llm.NewWithConfig(context.Background(), llm.ChatConfig{Temperature: 3})
	assert.Error(t, err)

	_, err = llm.NewWithConfig(context.Background(), llm.ChatConfig{MaxTokens: -1})
	assert.Error(t, err)
}

func TestPrimaryWithoutBackends(t *testing.T) {
	engine, err := llm.NewWithConfig(context.Background(), llm.ChatConfig{DisableOllama: true})
	require.NoError(t, err)

	_, err = engine.Primary()
	assert.ErrorIs(t, err, types.ErrNoModel)
}

func TestChatStreamPrimary(t *testing.T) {
	primary := &testutil.FakeModel{Fragments: []string{"Penguins ", "live ", "in Antarctica."}}
	fallback := &testutil.FakeModel{Fragments: []string{"unused"}}
	engine := newEngine(t,
		llm.Backend{Name: "primary", Model: primary},
		llm.Backend{Name: "fallback", Model: fallback},
	)

	got := drain(t, engine.ChatStream(context.Background(), llm.Prompt{System: "sys", User: "q"}))

	assert.Equal(t, []string{"Penguins ", "live ", "in Antarctica."}, got)
	assert.Len(t, primary.Prompts(), 1)
	assert.Contains(t, primary.Prompts()[0], "sys")
	assert.Empty(t, fallback.Prompts())
}

func TestChatStreamFallback(t *testing.T) {
	primary := &testutil.FakeModel{Err: errors.New("quota exceeded")}
	fallback := &testutil.FakeModel{Fragments: []string{"from ", "llama"}}
	engine := newEngine(t,
		llm.Backend{Name: "primary", Model: primary},
		llm.Backend{Name: "fallback", Model: fallback},
	)

	got := drain(t, engine.ChatStream(context.Background(), llm.Prompt{User: "q"}))

	assert.Equal(t, []string{"from ", "llama"}, got)
}

func TestChatStreamMidStreamFailureKeepsDeliveredFragments(t *testing.T) {
	primary := &testutil.FakeModel{Fragments: []string{"partial "}, Err: errors.New("connection reset")}
	fallback := &testutil.FakeModel{Fragments: []string{"complete"}}
	engine := newEngine(t,
		llm.Backend{Name: "primary", Model: primary},
		llm.Backend{Name: "fallback", Model: fallback},
	)

	got := drain(t, engine.ChatStream(context.Background(), llm.Prompt{User: "q"}))

	assert.Equal(t, []string{"partial ", "complete"}, got)
}

func TestChatStreamAllBackendsFail(t *testing.T) {
	engine := newEngine(t,
		llm.Backend{Name: "primary", Model: &testutil.FakeModel{Err: errors.New("down")}},
		llm.Backend{Name: "fallback", Model: &testutil.FakeModel{Err: errors.New("down too")}},
	)

	got := drain(t, engine.ChatStream(context.Background(), llm.Prompt{User: "q"}))

	assert.Equal(t, []string{llm.DiagnosticFragment}, got)
}

func TestChatStreamNoBackends(t *testing.T) {
	engine, err := llm.NewWithConfig(context.Background(), llm.ChatConfig{DisableOllama: true})
	require.NoError(t, err)

	got := drain(t, engine.ChatStream(context.Background(), llm.Prompt{User: "q"}))

	assert.Equal(t, []string{llm.DiagnosticFragment}, got)
}

func TestChatStreamTimeoutFallsBack(t *testing.T) {
	engine := newEngine(t,
		llm.Backend{Name: "slow", Model: &testutil.FakeModel{Block: true}, Timeout: 20 * time.Millisecond},
		llm.Backend{Name: "fallback", Model: &testutil.FakeModel{Fragments: []string{"fast"}}},
	)

	got := drain(t, engine.ChatStream(context.Background(), llm.Prompt{User: "q"}))

	assert.Equal(t, []string{"fast"}, got)
}

func TestChatStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := newEngine(t, llm.Backend{Name: "blocked", Model: &testutil.FakeModel{Block: true}})

	stream := engine.ChatStream(ctx, llm.Prompt{User: "q"})
	cancel()

	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	stream.Close()
}

func TestStreamCloseStopsProducer(t *testing.T) {
	fragments := make([]string, 100)
	for i := range fragments {
		fragments[i] = "x"
	}
	engine := newEngine(t, llm.Backend{Name: "chatty", Model: &testutil.FakeModel{Fragments: fragments}})

	stream := engine.ChatStream(context.Background(), llm.Prompt{User: "q"})
	require.True(t, stream.Next())
	stream.Close()

	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestChat(t *testing.T) {
	engine := newEngine(t, llm.Backend{Name: "primary", Model: &testutil.FakeModel{Fragments: []string{"a", "b", "c"}}})

	answer, err := engine.Chat(context.Background(), llm.Prompt{User: "q"})

	assert.NoError(t, err)
	assert.Equal(t, "abc", answer)
}

func TestStaticStream(t *testing.T) {
	got := drain(t, llm.StaticStream(context.Background(), "one", "two"))
	assert.Equal(t, []string{"one", "two"}, got)
}
