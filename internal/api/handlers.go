package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"bridgeq/internal/domain"
	"bridgeq/internal/wire"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}
	t, err := s.q.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	f, err := wire.DecodeFilter(r.URL.Query())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	tasks, err := s.q.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.TaskList{Tasks: tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.q.Fetch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.q.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.q.Cancel(r.Context(), chi.URLParam(r, "id"))
	respondTask(w, t, err)
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.q.Retry(r.Context(), chi.URLParam(r, "id"))
	respondTask(w, t, err)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	body, ok := decodePayload(w, r)
	if !ok {
		return
	}
	t, err := s.q.Complete(r.Context(), chi.URLParam(r, "id"), body.Payload)
	respondTask(w, t, err)
}

func (s *Server) failTask(w http.ResponseWriter, r *http.Request) {
	body, ok := decodePayload(w, r)
	if !ok {
		return
	}
	t, err := s.q.Fail(r.Context(), chi.URLParam(r, "id"), body.Payload)
	respondTask(w, t, err)
}

func (s *Server) updateResponse(w http.ResponseWriter, r *http.Request) {
	body, ok := decodePayload(w, r)
	if !ok {
		return
	}
	t, err := s.q.UpdateResponse(r.Context(), chi.URLParam(r, "id"), body.Payload)
	respondTask(w, t, err)
}

func (s *Server) nextTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.q.NextFor(r.Context(), chi.URLParam(r, "bridge"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) listFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.FunctionList{Functions: domain.Functions()})
}

func (s *Server) createMachine(w http.ResponseWriter, r *http.Request) {
	var m domain.Machine
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}
	m.Team = chi.URLParam(r, "team")
	out, err := s.inv.CreateMachine(r.Context(), m)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getMachine(w http.ResponseWriter, r *http.Request) {
	m, err := s.inv.GetMachine(r.Context(), chi.URLParam(r, "team"), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) createStorage(w http.ResponseWriter, r *http.Request) {
	var st domain.Storage
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}
	st.Team = chi.URLParam(r, "team")
	out, err := s.inv.CreateStorage(r.Context(), st)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getStorage(w http.ResponseWriter, r *http.Request) {
	st, err := s.inv.GetStorage(r.Context(), chi.URLParam(r, "team"), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decodePayload accepts an empty body as "no payload".
func decodePayload(w http.ResponseWriter, r *http.Request) (wire.PayloadBody, bool) {
	var body wire.PayloadBody
	if r.ContentLength == 0 {
		return body, true
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeValidation, fmt.Sprintf("decode payload: %v", err))
		return body, false
	}
	return body, true
}

func respondTask(w http.ResponseWriter, t *domain.Task, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := domain.Classify(err)
	if status >= 500 {
		log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, wire.ErrorBody{Error: wire.ErrorDetail{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
