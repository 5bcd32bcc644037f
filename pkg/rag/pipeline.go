package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

type EventType string

const (
	EventSources EventType = "sources"
	EventToken   EventType = "token"
	EventError   EventType = "error"
)

// Event is one unit of the streamed response.
type Event struct {
	Type   EventType
	Data   any
	ChatID *int64 // sources only
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventSources {
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Data   any       `json:"data"`
			ChatID *int64    `json:"chat_id"`
		}{e.Type, e.Data, e.ChatID})
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		Data any       `json:"data"`
	}{e.Type, e.Data})
}

// Emitter writes one event to the client. An error means the client is
// gone.
type Emitter func(Event) error

type State string

const (
	StateStart       State = "START"
	StateSourcesSent State = "SOURCES_SENT"
	StateStreaming   State = "STREAMING"
	StateComplete    State = "COMPLETE"
	StateFailed      State = "FAILED"
	StateCancelled   State = "CANCELLED"
)

type PipelineConfig struct {
	Orchestrator *Orchestrator
	Streamer     *AnswerStreamer
	Memory       types.MemoryStore // optional
	HistoryTurns int
	Logger       *slog.Logger
}

// Pipeline runs one question from retrieval to persisted answer.
type Pipeline struct {
	config PipelineConfig
	logger *slog.Logger
}

func NewPipeline(config PipelineConfig) *Pipeline {
	if config.HistoryTurns < 0 {
		config.HistoryTurns = 0
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Pipeline{
		config: config,
		logger: config.Logger,
	}
}

type Question struct {
	UserID     int64
	ChatID     *int64 // nil when no chat is associated
	Query      string
	Collection string
	Mode       models.Mode
	TopK       int
}

type Result struct {
	State  State
	Answer string
}

// Run emits a sources event, then token events in generation order, or a
// single error event. The assistant turn is stored only when the stream
// reaches COMPLETE.
func (p *Pipeline) Run(ctx context.Context, q Question, emit Emitter) Result {
	log := p.logger.With(slog.String("collection", q.Collection), slog.String("mode", string(q.Mode)))

	// START
	history := p.history(ctx, q)
	p.remember(ctx, q, models.RoleUser, q.Query)

	retrieval, err := p.config.Orchestrator.Run(ctx, Request{
		Query:      q.Query,
		Collection: q.Collection,
		Mode:       q.Mode,
		TopK:       q.TopK,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{State: StateCancelled}
		}
		log.Error("retrieval failed", slog.Any("error", err))
		_ = emit(Event{Type: EventError, Data: err.Error()})
		return Result{State: StateFailed}
	}

	// SOURCES_SENT
	if err := emit(Event{Type: EventSources, Data: retrieval.Sources, ChatID: q.ChatID}); err != nil {
		log.Info("client went away before sources", slog.Any("error", err))
		return Result{State: StateCancelled}
	}

	// STREAMING
	answer := p.config.Streamer.Stream(ctx, PromptInput{
		Query:      q.Query,
		PDFChunks:  retrieval.Context.PDFChunks,
		WebSources: retrieval.Context.WebSources,
		Mode:       q.Mode,
		History:    history,
	})
	defer answer.Close()

	for answer.Next() {
		if err := emit(Event{Type: EventToken, Data: answer.Fragment()}); err != nil {
			log.Info("client went away mid-answer", slog.Any("error", err))
			return Result{State: StateCancelled, Answer: answer.Text()}
		}
	}
	if err := answer.Err(); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Result{State: StateCancelled, Answer: answer.Text()}
		}
		log.Error("generation failed", slog.Any("error", err))
		_ = emit(Event{Type: EventError, Data: fmt.Sprintf("generation failed: %v", err)})
		return Result{State: StateFailed, Answer: answer.Text()}
	}

	// COMPLETE
	p.remember(ctx, q, models.RoleAssistant, answer.Text())
	return Result{State: StateComplete, Answer: answer.Text()}
}

// history reads the recent turns before the new question is stored.
func (p *Pipeline) history(ctx context.Context, q Question) []models.ConversationTurn {
	if p.config.Memory == nil || q.ChatID == nil || p.config.HistoryTurns == 0 {
		return nil
	}
	turns, err := p.config.Memory.RecentTurns(ctx, q.UserID, *q.ChatID, p.config.HistoryTurns)
	if err != nil {
		p.logger.Warn("failed to read conversation history", slog.Int64("chat_id", *q.ChatID), slog.Any("error", err))
		return nil
	}
	return turns
}

func (p *Pipeline) remember(ctx context.Context, q Question, role models.Role, content string) {
	if p.config.Memory == nil || q.ChatID == nil {
		return
	}
	if err := p.config.Memory.AppendTurn(ctx, q.UserID, *q.ChatID, role, content); err != nil {
		p.logger.Warn("failed to persist turn",
			slog.Int64("chat_id", *q.ChatID),
			slog.String("role", string(role)),
			slog.Any("error", err))
	}
}
