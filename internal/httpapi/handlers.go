package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/corpus"
	"bioscout/internal/domain"
)

type askRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.Ask(r.Context(), req.Question, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, goerr.Wrap(domain.ErrInvalidInput, "limit must be an integer", goerr.V("limit", raw)))
			return
		}
		limit = n
	}
	history, err := s.service.History(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.QAInteraction{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"history": history})
}

type trainRequest struct {
	Documents []domain.TrainingDocument `json:"documents"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !s.decode(w, r, &req) {
		return
	}
	report, err := s.service.Train(r.Context(), req.Documents)
	s.writeReport(w, r, report, err)
}

type ingestRequest struct {
	FullRebuild bool              `json:"full_rebuild"`
	Source      *domain.SourceRef `json:"source,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	var (
		report corpus.Report
		err    error
	)
	if req.Source != nil {
		report, err = s.service.IngestSource(r.Context(), *req.Source)
	} else {
		report, err = s.service.IngestCorpus(r.Context(), req.FullRebuild)
	}
	s.writeReport(w, r, report, err)
}

type reembedRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleReembed(w http.ResponseWriter, r *http.Request) {
	var req reembedRequest
	if !s.decode(w, r, &req) {
		return
	}
	report, err := s.service.ReembedPending(r.Context(), req.Limit)
	s.writeReport(w, r, report, err)
}

type matchRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.MatchSpecies(r.Context(), req.Label)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

type identifyRequest struct {
	Predictions []domain.Prediction `json:"predictions"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.Identify(r.Context(), req.Predictions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

// writeReport keeps the partial report in the body when ingestion only partly succeeded.
func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, report corpus.Report, err error) {
	if err == nil {
		s.writeJSON(w, r, http.StatusOK, report)
		return
	}
	status := statusOf(err)
	s.logError(r, status, err)
	s.writeJSON(w, r, status, map[string]any{"error": err.Error(), "report": report})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, goerr.Wrap(domain.ErrInvalidInput, "malformed request body: "+err.Error()))
		return false
	}
	return true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) logError(r *http.Request, status int, err error) {
	attrs := []any{"status", status, "path", r.URL.Path, "error", err.Error()}
	var ge *goerr.Error
	if errors.As(err, &ge) {
		attrs = append(attrs, "values", ge.Values())
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("HTTP error", attrs...)
	} else {
		s.logger.Warn("HTTP error", attrs...)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	s.logError(r, status, err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	s.writeJSON(w, r, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal response", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data) //nolint:errcheck // header already committed
}
