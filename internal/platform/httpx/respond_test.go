package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemWritesRFC7807(t *testing.T) {
	res := httptest.NewRecorder()
	Problem(res, http.StatusForbidden, "Forbidden", "nope")

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, ProblemDetail{Type: "about:blank", Title: "Forbidden", Status: http.StatusForbidden, Detail: "nope"}, body)
}

func TestRespondErrorHidesServerDetail(t *testing.T) {
	res := httptest.NewRecorder()
	RespondError(res, http.StatusInternalServerError, "pq: connection refused")

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "Internal Server Error", body.Title)
	assert.Empty(t, body.Detail)
}
