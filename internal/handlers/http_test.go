package handlers

import (
	"net/http"
	"testing"

	"github.com/radiowatch/radiowatch/internal/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	mux := http.NewServeMux()
	NewHTTPHandler(db).SetupRoutes(mux)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/health", nil).
		Execute(mux).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"status":"ok"`)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/health", nil).
		Execute(mux).
		AssertStatus(http.StatusMethodNotAllowed)
}
