// Package server exposes upload, collection, chat and streaming question
// endpoints over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/ingest"
	"github.com/reanm09/intellidocs/pkg/rag"
)

// UserHeader carries the caller's user id, set by the authenticating proxy
// in front of this service.
const UserHeader = "X-User-ID"

// JobQueue accepts ingestion jobs. *ingest.Worker implements it.
type JobQueue interface {
	Submit(job ingest.Job) error
}

type Config struct {
	Registry types.Registry
	Index    types.VectorIndex
	Pipeline *rag.Pipeline
	Jobs     JobQueue

	UploadDir      string
	MaxUploadBytes int64
	TopK           int
	Logger         *slog.Logger
}

type Server struct {
	config Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewWithConfig(config Config) (*Server, error) {
	if config.Registry == nil || config.Index == nil {
		return nil, fmt.Errorf("registry and vector index are required")
	}
	if config.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if config.Jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if config.UploadDir == "" {
		config.UploadDir = "uploads"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 64 << 20
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		config: config,
		logger: config.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/upload", s.authenticated(s.handleUpload))
	s.mux.HandleFunc("GET /api/collections", s.authenticated(s.handleListCollections))
	s.mux.HandleFunc("GET /api/collections/{id}/download", s.authenticated(s.handleDownload))
	s.mux.HandleFunc("DELETE /api/collections/{id}", s.authenticated(s.handleDeleteCollection))

	s.mux.HandleFunc("POST /api/chats", s.authenticated(s.handleCreateChat))
	s.mux.HandleFunc("GET /api/chats", s.authenticated(s.handleListChats))
	s.mux.HandleFunc("GET /api/chats/{id}", s.authenticated(s.handleChatHistory))
	s.mux.HandleFunc("DELETE /api/chats/{id}", s.authenticated(s.handleDeleteChat))

	s.mux.HandleFunc("POST /api/chat", s.authenticated(s.handleChat))
	s.mux.HandleFunc("GET /ws", s.authenticated(s.handleWebSocket))
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

type userKey struct{}

// authenticated rejects requests without a valid user id header.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

func userFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey{}).(int64)
	return id
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeStoreError maps a registry error to a response.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, types.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("request failed", slog.String("action", action), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "failed to "+action)
}
