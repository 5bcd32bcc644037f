package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/reanm09/intellidocs/internal/types"
)

// DiagnosticFragment is the only fragment of a stream whose backends all failed.
const DiagnosticFragment = "All AI models failed. Please check server logs."

// Backend is one generation service tried by the ChatEngine.
type Backend struct {
	Name    string
	Model   llms.Model
	Timeout time.Duration
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model         string // Ollama fallback model
	BaseURL       string // Ollama server URL
	GeminiAPIKey  string
	GeminiModel   string
	DisableOllama bool
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration // per backend call

	// Backends overrides the backends built from the fields above.
	Backends []Backend
	Logger   *slog.Logger
}

// ChatEngine streams answers from the first backend that succeeds.
type ChatEngine struct {
	config   ChatConfig
	backends []Backend
	logger   *slog.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(ctx context.Context, config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "llama3"
	}
	if config.GeminiModel == "" {
		config.GeminiModel = "gemini-1.5-flash"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	backends := config.Backends
	if backends == nil {
		if config.GeminiAPIKey != "" {
			gemini, err := googleai.New(ctx,
				googleai.WithAPIKey(config.GeminiAPIKey),
				googleai.WithDefaultModel(config.GeminiModel))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
			}
			backends = append(backends, Backend{Name: "gemini", Model: gemini})
		}

		if !config.DisableOllama {
			local, err := ollama.New(ollama.WithModel(config.Model),
				ollama.WithServerURL(config.BaseURL))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize LLM: %w", err)
			}
			backends = append(backends, Backend{Name: "ollama", Model: local})
		}
	}

	for i := range backends {
		if backends[i].Timeout <= 0 {
			backends[i].Timeout = config.Timeout
		}
	}

	return &ChatEngine{
		config:   config,
		backends: backends,
		logger:   config.Logger,
	}, nil
}

// Primary returns the first configured model, used for auxiliary calls such
// as query rewriting.
func (ce *ChatEngine) Primary() (llms.Model, error) {
	if len(ce.backends) == 0 {
		return nil, types.ErrNoModel
	}
	return ce.backends[0].Model, nil
}

// ChatStream generates the answer for prompt. Backends are tried in order;
// a backend failing mid-answer hands over to the next one and fragments
// already delivered stay delivered. When every backend fails the stream
// yields DiagnosticFragment instead of an error.
func (ce *ChatEngine) ChatStream(ctx context.Context, prompt Prompt) *Stream {
	stream := newStream(ctx)
	stream.run(func(ctx context.Context) error {
		for _, backend := range ce.backends {
			err := ce.generate(ctx, stream, backend, prompt)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ce.logger.Warn("generation backend failed",
				slog.String("backend", backend.Name),
				slog.Any("error", err))
		}

		if len(ce.backends) == 0 {
			ce.logger.Warn("no generation backend configured")
		}
		return stream.send(ctx, DiagnosticFragment)
	})
	return stream
}

func (ce *ChatEngine) generate(ctx context.Context, stream *Stream, backend Backend, prompt Prompt) error {
	callCtx, cancel := context.WithTimeout(ctx, backend.Timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt.String()),
	}

	streamed := 0
	resp, err := backend.Model.GenerateContent(callCtx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed++
			return stream.send(ctx, string(chunk))
		}),
	)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s: %w", backend.Name, backend.Timeout, err)
		}
		return err
	}

	// Some backends ignore the streaming option and only return the
	// complete answer.
	if streamed == 0 && resp != nil && len(resp.Choices) > 0 {
		if text := resp.Choices[0].Content; text != "" {
			return stream.send(ctx, text)
		}
	}
	return nil
}

// Chat generates a complete answer by draining ChatStream.
func (ce *ChatEngine) Chat(ctx context.Context, prompt Prompt) (string, error) {
	stream := ce.ChatStream(ctx, prompt)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		sb.WriteString(stream.Fragment())
	}
	return sb.String(), stream.Err()
}
