package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/ingest"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename reduces an uploaded name to a safe base name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "" || name == "." {
		return ""
	}
	return name
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	filename := SanitizeFilename(header.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF files are supported")
		return
	}

	userDir := filepath.Join(s.config.UploadDir, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(userDir, 0o750); err != nil {
		s.logger.Error("failed to create upload directory", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	storedPath := filepath.Join(userDir, filename)
	if err := saveFile(storedPath, file); err != nil {
		s.logger.Error("failed to store upload", slog.String("path", storedPath), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	collection, err := s.config.Registry.CreateCollection(r.Context(), userID, filename, storedPath)
	if err != nil {
		s.writeStoreError(w, err, "create collection")
		return
	}

	if err := s.config.Jobs.Submit(ingest.NewJob(*collection)); err != nil {
		s.logger.Error("failed to queue ingestion", slog.Int64("collection_id", collection.ID), slog.Any("error", err))
		_ = s.config.Registry.SetCollectionStatus(r.Context(), collection.ID, models.StatusFailed)
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to queue ingestion")
		return
	}

	s.logger.Info("queued ingestion",
		slog.Int64("user_id", userID),
		slog.Int64("collection_id", collection.ID),
		slog.String("filename", filename))

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"collection_id": collection.ID,
		"status":        "processing",
	})
}

func saveFile(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return dst.Close()
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.config.Registry.ListCollections(r.Context(), userFrom(r))
	if err != nil {
		s.writeStoreError(w, err, "list collections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "collections": collections})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	collection, err := s.config.Registry.GetCollection(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeStoreError(w, err, "get collection")
		return
	}

	f, err := os.Open(collection.StoredPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "file missing")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusNotFound, "file missing")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", collection.Filename))
	http.ServeContent(w, r, collection.Filename, info.ModTime(), f)
}

// handleDeleteCollection removes the stored file, the indexed chunks and
// the registry row.
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	collection, err := s.config.Registry.GetCollection(r.Context(), userID, id)
	if err != nil {
		s.writeStoreError(w, err, "get collection")
		return
	}

	// Uploads of the same filename share one stored file and one index collection.
	siblings, err := s.config.Registry.ListCollections(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err, "list collections")
		return
	}
	shared := 0
	for _, c := range siblings {
		if c.Filename == collection.Filename {
			shared++
		}
	}
	if shared <= 1 {
		if err := os.Remove(collection.StoredPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove stored file", slog.String("path", collection.StoredPath), slog.Any("error", err))
		}
		s.dropIndex(r, collection)
	}

	if err := s.config.Registry.DeleteCollection(r.Context(), userID, id); err != nil {
		s.writeStoreError(w, err, "delete collection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) dropIndex(r *http.Request, collection *models.Collection) {
	err := s.config.Index.DeleteCollection(r.Context(), collection.Name())
	if err != nil && !errors.Is(err, types.ErrCollectionNotFound) {
		s.logger.Warn("failed to delete indexed chunks",
			slog.String("collection", collection.Name()),
			slog.Any("error", err))
	}
}
