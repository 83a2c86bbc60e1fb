package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3pipe/internal/response"
)

func TestAPIKeyMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	tests := []struct {
		name           string
		apiKey         string
		authHeader     string
		apiKeyHeader   string
		expectedStatus int
	}{
		{name: "no API key configured", expectedStatus: http.StatusOK},
		{name: "valid bearer token", apiKey: "secret", authHeader: "Bearer secret", expectedStatus: http.StatusOK},
		{name: "valid X-API-Key", apiKey: "secret", apiKeyHeader: "secret", expectedStatus: http.StatusOK},
		{name: "wrong bearer token, valid X-API-Key", apiKey: "secret", authHeader: "Bearer nope", apiKeyHeader: "secret", expectedStatus: http.StatusOK},
		{name: "invalid bearer token", apiKey: "secret", authHeader: "Bearer nope", expectedStatus: http.StatusUnauthorized},
		{name: "invalid X-API-Key", apiKey: "secret", apiKeyHeader: "nope", expectedStatus: http.StatusUnauthorized},
		{name: "key prefix only", apiKey: "secret", apiKeyHeader: "sec", expectedStatus: http.StatusUnauthorized},
		{name: "no headers", apiKey: "secret", expectedStatus: http.StatusUnauthorized},
		{name: "malformed authorization", apiKey: "secret", authHeader: "Token secret", expectedStatus: http.StatusUnauthorized},
		{name: "empty bearer token", apiKey: "secret", authHeader: "Bearer ", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKeyMiddleware(&Config{APIKey: tt.apiKey})(okHandler)

			req := httptest.NewRequest(http.MethodPut, "/v1/objects/report.csv", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.apiKeyHeader != "" {
				req.Header.Set("X-API-Key", tt.apiKeyHeader)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "OK", rr.Body.String())
				return
			}

			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			var errorResp response.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errorResp))
			assert.Equal(t, "unauthorized", errorResp.Code)
			assert.Equal(t, "Invalid or missing API key", errorResp.Message)
			assert.NotEmpty(t, errorResp.Hint)
		})
	}
}
