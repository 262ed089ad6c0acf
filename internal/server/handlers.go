package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"callscribe/internal/domain"
	"callscribe/internal/providers/assemblyai"
)

func (s *Server) streamingToken(w http.ResponseWriter, r *http.Request) {
	if s.deps.Minter == nil {
		writeError(w, http.StatusInternalServerError, assemblyai.ErrMissingAPIKey.Error())
		return
	}
	token, err := s.deps.Minter.MintToken(r.Context())
	if err != nil {
		s.log.Error("failed to create streaming token", "error", err)
		if errors.Is(err, assemblyai.ErrMissingAPIKey) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create AssemblyAI token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type summarizeRequest struct {
	Transcript string `json:"transcript"`
	CallID     string `json:"callId,omitempty"`
}

// summarize streams the summary as plain text. When callId is given the finished
// summary is saved onto that call.
func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "Transcript is required")
		return
	}
	if s.deps.Summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrSummaryUnavailable.Error())
		return
	}

	userID := UserID(r.Context())
	if req.CallID != "" {
		if _, err := s.deps.Store.Get(r.Context(), userID, req.CallID); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	rc := http.NewResponseController(w)
	started := false
	summary, err := s.deps.Summarizer.Summarize(r.Context(), req.Transcript, func(chunk string) {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		_, _ = w.Write([]byte(chunk))
		_ = rc.Flush()
	})
	if err != nil {
		s.log.Error("summary failed", "error", err, "streamed", started)
		if !started {
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}

	if req.CallID != "" {
		if _, err := s.deps.Store.Update(r.Context(), userID, req.CallID, domain.CallUpdate{Summary: &summary}); err != nil {
			s.log.Error("failed to save summary", "call_id", req.CallID, "error", err)
		}
	}
}

type createCallRequest struct {
	Title string `json:"title"`
}

func (s *Server) createCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = domain.DefaultCallTitle
	}

	call, err := s.deps.Store.Create(r.Context(), UserID(r.Context()), title)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.deps.Store.List(r.Context(), UserID(r.Context()))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) recentCalls(w http.ResponseWriter, r *http.Request) {
	limit := domain.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	calls, err := s.deps.Store.Recent(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.deps.Store.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) updateCall(w http.ResponseWriter, r *http.Request) {
	var update domain.CallUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if update.Status != nil && !update.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown call status")
		return
	}
	if update.DurationSeconds != nil && *update.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	call, err := s.deps.Store.Update(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), update)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) deleteCall(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Delete(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrCallNotFound):
		writeError(w, http.StatusNotFound, "Call not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	default:
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
