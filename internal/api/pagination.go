package api

import (
	"net/http"
	"strconv"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ListParams holds parsed limit/offset query parameters.
type ListParams struct {
	Limit  int
	Offset int
}

// ParseListParams extracts limit/offset from the request.
// Defaults: limit=50, offset=0. Maximum limit is 200.
func ParseListParams(r *http.Request) ListParams {
	p := ListParams{Limit: defaultLimit}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
			if p.Limit > maxLimit {
				p.Limit = maxLimit
			}
		}
	}

	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}

	return p
}

// ListResponse is the standard paginated list envelope.
type ListResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Count  int         `json:"count"`
}

// NewListResponse wraps items with their pagination window.
func NewListResponse(items interface{}, p ListParams, count int) ListResponse {
	return ListResponse{
		Items:  items,
		Limit:  p.Limit,
		Offset: p.Offset,
		Count:  count,
	}
}
