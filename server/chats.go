package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/reanm09/intellidocs/internal/models"
)

// HistoryLimit is the number of turns returned by the chat history endpoint.
const HistoryLimit = 50

type createChatRequest struct {
	Name         string `json:"name"`
	CollectionID *int64 `json:"collection_id"`
	Mode         string `json:"mode"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	var req createChatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "New Chat"
	}
	if req.CollectionID != nil {
		if _, err := s.config.Registry.GetCollection(r.Context(), userID, *req.CollectionID); err != nil {
			s.writeStoreError(w, err, "get collection")
			return
		}
	}

	chat, err := s.config.Registry.CreateChat(r.Context(), userID, name, req.CollectionID, mode)
	if err != nil {
		s.writeStoreError(w, err, "create chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chat_id": chat.ID})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.config.Registry.ListChats(r.Context(), userFrom(r))
	if err != nil {
		s.writeStoreError(w, err, "list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chats": chats})
}

type historyEntry struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if _, err := s.config.Registry.GetChat(r.Context(), userID, id); err != nil {
		s.writeStoreError(w, err, "get chat")
		return
	}

	turns, err := s.config.Registry.RecentTurns(r.Context(), userID, id, HistoryLimit)
	if err != nil {
		s.writeStoreError(w, err, "read history")
		return
	}
	history := make([]historyEntry, 0, len(turns))
	for _, t := range turns {
		history = append(history, historyEntry{Role: t.Role, Content: t.Content})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "history": history})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.config.Registry.DeleteChat(r.Context(), userFrom(r), id); err != nil {
		s.writeStoreError(w, err, "delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
