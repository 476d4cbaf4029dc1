package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bridgeq/internal/domain"
	"bridgeq/internal/infra/memq"
	"bridgeq/internal/wire"
)

func serve(t *testing.T, s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body wire.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestAuthRequired(t *testing.T) {
	s := NewServer(memq.New(), "tok")
	rec := serve(t, s, http.MethodGet, "/v1/functions", "", "")
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != domain.CodePermissionDenied {
		t.Fatalf("expected 401 permission_denied, got %d", rec.Code)
	}
	if rec := serve(t, s, http.MethodGet, "/v1/functions", "", "tok"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestSubmitAndNext(t *testing.T) {
	s := NewServer(memq.New(), "")

	rec := serve(t, s, http.MethodPost, "/v1/bridges/b1/next", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on empty queue, got %d", rec.Code)
	}

	rec = serve(t, s, http.MethodPost, "/v1/tasks", `{"team":"ops","bridge":"b1","function":"hello","priority":3}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created domain.Task
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	rec = serve(t, s, http.MethodPost, "/v1/bridges/b1/next", "", "")
	var claimed domain.Task
	if err := json.NewDecoder(rec.Body).Decode(&claimed); err != nil {
		t.Fatal(err)
	}
	if claimed.ID != created.ID || claimed.Status != domain.StatusProcessing {
		t.Fatalf("unexpected claim %+v", claimed)
	}
}

func TestErrorMapping(t *testing.T) {
	s := NewServer(memq.New(), "")
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/v1/tasks", `{"team":`, http.StatusBadRequest, domain.CodeValidation},
		{"bad priority", http.MethodPost, "/v1/tasks", `{"team":"ops","bridge":"b1","function":"hello","priority":9}`, http.StatusBadRequest, domain.CodeValidation},
		{"unknown task", http.MethodGet, "/v1/tasks/nope", "", http.StatusNotFound, domain.CodeNotFound},
		{"bad filter", http.MethodGet, "/v1/tasks?status=RUNNING", "", http.StatusBadRequest, domain.CodeValidation},
		{"unknown machine", http.MethodGet, "/v1/teams/ops/machines/m1", "", http.StatusNotFound, domain.CodeNotFound},
		{"bad payload", http.MethodPost, "/v1/tasks/x/complete", `[1,2]`, http.StatusBadRequest, domain.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s, tt.method, tt.path, tt.body, "")
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestEntityTeamComesFromPath(t *testing.T) {
	s := NewServer(memq.New(), "")
	rec := serve(t, s, http.MethodPost, "/v1/teams/ops/storages", `{"team":"someone-else","name":"s3"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := serve(t, s, http.MethodGet, "/v1/teams/ops/storages/s3", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("storage not stored under path team: %d", rec.Code)
	}
	if rec := serve(t, s, http.MethodPost, "/v1/teams/ops/storages", `{"name":"s3"}`, ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
}
