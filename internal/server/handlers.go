package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strand-ai/strand/internal/core"
	"github.com/strand-ai/strand/pkg/types"
)

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var spec core.CreateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if spec.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt required")
		return
	}

	info, err := s.core.CreateSession(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries := s.core.ActiveSessions()
	if summaries == nil {
		summaries = []types.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	summary, err := s.core.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	if err := s.core.AbortSession(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) respondAsk(w http.ResponseWriter, r *http.Request) {
	var resp types.AskResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if err := s.core.Respond(chi.URLParam(r, "sessionID"), resp); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) askQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.AskQueueStatus())
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Metrics())
}
