package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	Data("uploaded", map[string]int{"parts": 3}).WriteStatus(rr, http.StatusCreated)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"uploaded","data":{"parts":3}}`, rr.Body.String())
}

func TestJSONResponse_OmitsEmptyData(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON("ok").Write(rr)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rr.Body.String())
}

func TestErrorResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	Error("bad_request", "key is required", "PUT /v1/objects/<key>").WriteStatus(rr, http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, ErrorResponse{Code: "bad_request", Message: "key is required", Hint: "PUT /v1/objects/<key>"}, body)
}

func TestErrorResponse_DefaultStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	Error("internal", "boom", "").Write(rr)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hint")
}

func TestPlainResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	Plain("OK").Write(rr)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, "OK", rr.Body.String())
}
