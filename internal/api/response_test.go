package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/radiowatch/radiowatch/internal/database"
)

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()
	RespondJSON(w, http.StatusCreated, map[string]string{"id": "abc"})

	if w.Code != http.StatusCreated {
		t.Errorf("Status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("Body = %v", body)
	}
}

func TestRespondStoreError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("call x: %w", database.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("stale: %w", database.ErrConflict), http.StatusConflict, "conflict"},
		{fmt.Errorf("not archived: %w", database.ErrPrecondition), http.StatusUnprocessableEntity, "precondition_failed"},
		{fmt.Errorf("ping: %w", database.ErrStoreUnavailable), http.StatusServiceUnavailable, "store_unavailable"},
		{errors.New("something else"), http.StatusInternalServerError, ""},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		RespondStoreError(w, tc.err)
		if w.Code != tc.wantStatus {
			t.Errorf("Error %v: status = %d, want %d", tc.err, w.Code, tc.wantStatus)
		}
		var body ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid JSON body: %v", err)
		}
		if body.Code != tc.wantCode {
			t.Errorf("Error %v: code = %q, want %q", tc.err, body.Code, tc.wantCode)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	var p payload
	if err := DecodeJSON(r, &p); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if p.Name != "x" {
		t.Errorf("Name = %q", p.Name)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if err := DecodeJSON(r, &p); err == nil {
		t.Error("Expected error for malformed JSON")
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(r, &p); err == nil {
		t.Error("Expected error for empty body")
	}
}
