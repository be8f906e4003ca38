package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/goprov"
	"github.com/brunobiangulo/goprov/document"
	"github.com/brunobiangulo/goprov/span"
)

type handler struct {
	engine goprov.Engine
}

func newHandler(e goprov.Engine) *handler {
	return &handler{engine: e}
}

// routes registers every endpoint on a new mux.
func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /documents/{id}/resolve", h.handleResolve)
	mux.HandleFunc("GET /documents/{id}/spans", h.handleSpans)
	mux.HandleFunc("GET /documents/{id}/summary", h.handleSummary)
	mux.HandleFunc("GET /documents/{id}/elements", h.handleElement)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /ingest
// Accepts multipart file upload or JSON with file path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpDir, err := os.MkdirTemp("", "goprov-upload-")
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp dir", "error", err)
				return
			}
			defer os.RemoveAll(tmpDir)

			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()

			docID, err := h.engine.Ingest(ctx, tmpPath)
			if err != nil {
				h.writeEngineError(w, "ingestion failed", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"document_id": docID,
				"filename":    safeName,
			})
			return
		}
	}

	// Try JSON body with path
	var req struct {
		Path    string            `json:"path"`
		Options map[string]string `json:"options,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []goprov.IngestOption
	if _, ok := req.Options["force"]; ok {
		opts = append(opts, goprov.WithForceReparse())
	}

	docID, err := h.engine.Ingest(ctx, absPath, opts...)
	if err != nil {
		h.writeEngineError(w, "ingestion failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": docID,
		"path":        absPath,
	})
}

// POST /documents/{id}/resolve
func (h *handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Triples []document.Triple `json:"triples"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := h.engine.Resolve(ctx, id, req.Triples)
	if err != nil {
		h.writeEngineError(w, "resolve failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /documents/{id}/spans?type=cross_chunk
func (h *handler) handleSpans(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	typ := span.Type(r.URL.Query().Get("type"))
	if typ != "" && !typ.Valid() {
		writeError(w, http.StatusBadRequest, "unknown span type")
		return
	}

	spans, err := h.engine.Spans(r.Context(), id, typ)
	if err != nil {
		h.writeEngineError(w, "failed to load spans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id,
		"spans":       spans,
	})
}

// GET /documents/{id}/summary
func (h *handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	summary, err := h.engine.Summary(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "failed to summarize spans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":    id,
		"summary":        summary,
		"resolved_ratio": summary.ResolvedRatio(),
	})
}

// GET /documents/{id}/elements?ref=#/texts/3
func (h *handler) handleElement(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}
	el, err := h.engine.Element(r.Context(), id, ref)
	if err != nil {
		h.writeEngineError(w, "failed to load element", err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.engine.Document(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "failed to load document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		h.writeEngineError(w, "delete failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

// writeEngineError maps engine sentinels to status codes and logs the rest.
func (h *handler) writeEngineError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, goprov.ErrDocumentNotFound), errors.Is(err, goprov.ErrElementNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, goprov.ErrUnsupportedFormat),
		errors.Is(err, span.ErrUnknownChunk),
		errors.Is(err, span.ErrOutOfOrderRegistration),
		errors.Is(err, span.ErrChunkMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, goprov.ErrDocumentNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, goprov.ErrParsingFailed):
		writeError(w, http.StatusUnprocessableEntity, msg)
		slog.Warn("parse error", "error", err)
	default:
		writeError(w, http.StatusInternalServerError, msg)
		slog.Error(msg, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
