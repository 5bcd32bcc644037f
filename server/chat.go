package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/rag"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin checks are left to the fronting proxy
	},
}

// ChatRequest is the body of POST /api/chat and of each websocket message.
type ChatRequest struct {
	Query          string `json:"query"`
	CollectionName string `json:"collection_name"`
	Mode           string `json:"mode"`
	ChatID         *int64 `json:"chat_id"`
	TopK           int    `json:"top_k"`
}

// question validates req and resolves the chat it belongs to.
func (s *Server) question(ctx context.Context, userID int64, req ChatRequest) (rag.Question, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.CollectionName = strings.TrimSpace(req.CollectionName)
	if req.CollectionName == "" {
		return rag.Question{}, fmt.Errorf("no document selected")
	}
	if req.Query == "" {
		return rag.Question{}, fmt.Errorf("query is required")
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		return rag.Question{}, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}

	return rag.Question{
		UserID:     userID,
		ChatID:     s.resolveChat(ctx, userID, req, mode),
		Query:      req.Query,
		Collection: models.ResolveCollectionName(userID, req.CollectionName),
		Mode:       mode,
		TopK:       topK,
	}, nil
}

// resolveChat keeps a chat id the user owns. Otherwise it reuses the latest
// chat of the named collection, or creates one. Failures only lose memory,
// so they are logged and the question runs without a chat.
func (s *Server) resolveChat(ctx context.Context, userID int64, req ChatRequest, mode models.Mode) *int64 {
	reg := s.config.Registry

	if req.ChatID != nil {
		if _, err := reg.GetChat(ctx, userID, *req.ChatID); err == nil {
			return req.ChatID
		}
	}

	filename := strings.TrimPrefix(req.CollectionName, fmt.Sprintf("user_%d__", userID))
	collection, err := reg.FindCollection(ctx, userID, filename)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.Warn("failed to look up collection for chat", slog.Any("error", err))
		}
		return nil
	}

	chat, err := reg.LatestChatForCollection(ctx, collection.ID)
	if err == nil {
		return &chat.ID
	}
	if !errors.Is(err, types.ErrNotFound) {
		s.logger.Warn("failed to look up chat", slog.Any("error", err))
		return nil
	}

	chat, err = reg.CreateChat(ctx, userID, filename, &collection.ID, mode)
	if err != nil {
		s.logger.Warn("failed to create chat", slog.Any("error", err))
		return nil
	}
	return &chat.ID
}

// handleChat streams the answer as newline-delimited JSON, flushing after
// every event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := s.question(r.Context(), userFrom(r), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(e rag.Event) error {
		if err := enc.Encode(e); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	res := s.config.Pipeline.Run(r.Context(), q, emit)
	s.logger.Debug("chat finished", slog.String("state", string(res.State)), slog.Int("answer_len", len(res.Answer)))
}

// handleWebSocket answers each incoming ChatRequest with the same events as
// the NDJSON endpoint, one text message per event. Messages are answered in
// the order they arrive; the next one is read only after the previous
// answer has finished streaming.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	emit := func(e rag.Event) error {
		return conn.WriteJSON(e)
	}

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				if emit(rag.Event{Type: rag.EventError, Data: "invalid message"}) != nil {
					return
				}
				continue
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}

		q, err := s.question(ctx, userID, req)
		if err != nil {
			if emit(rag.Event{Type: rag.EventError, Data: err.Error()}) != nil {
				return
			}
			continue
		}
		if res := s.config.Pipeline.Run(ctx, q, emit); res.State == rag.StateCancelled {
			return
		}
	}
}
