package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseListParamsDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/calls/search", nil)
	p := ParseListParams(r)
	if p.Limit != 50 || p.Offset != 0 {
		t.Errorf("Defaults = %+v, want limit=50 offset=0", p)
	}
}

func TestParseListParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/calls/search?limit=10&offset=30", nil)
	p := ParseListParams(r)
	if p.Limit != 10 || p.Offset != 30 {
		t.Errorf("Params = %+v, want limit=10 offset=30", p)
	}
}

func TestParseListParamsClampsAndIgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9999&offset=-4", nil)
	p := ParseListParams(r)
	if p.Limit != 200 {
		t.Errorf("Limit = %d, want clamped 200", p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0 for negative input", p.Offset)
	}

	r = httptest.NewRequest(http.MethodGet, "/?limit=abc&offset=xyz", nil)
	p = ParseListParams(r)
	if p.Limit != 50 || p.Offset != 0 {
		t.Errorf("Garbage params = %+v, want defaults", p)
	}
}
