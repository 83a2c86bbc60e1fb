package response

import (
	"encoding/json"
	"net/http"
)

type ResponseWriter interface {
	Write(w http.ResponseWriter)
	WriteStatus(w http.ResponseWriter, status int)
}

// JSONResponse is the envelope for successful API calls.
type JSONResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (r *JSONResponse) Write(w http.ResponseWriter) {
	r.WriteStatus(w, http.StatusOK)
}

func (r *JSONResponse) WriteStatus(w http.ResponseWriter, status int) {
	writeJSON(w, status, r)
}

// ErrorResponse is the envelope for failed API calls.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (r *ErrorResponse) Write(w http.ResponseWriter) {
	r.WriteStatus(w, http.StatusInternalServerError)
}

func (r *ErrorResponse) WriteStatus(w http.ResponseWriter, status int) {
	writeJSON(w, status, r)
}

type PlainResponse struct {
	Message string
}

func (r *PlainResponse) Write(w http.ResponseWriter) {
	r.WriteStatus(w, http.StatusOK)
}

func (r *PlainResponse) WriteStatus(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(r.Message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Convenience functions for common patterns
func JSON(message string) ResponseWriter {
	return &JSONResponse{Message: message}
}

func Data(message string, data any) ResponseWriter {
	return &JSONResponse{Message: message, Data: data}
}

func Error(code, message, hint string) ResponseWriter {
	return &ErrorResponse{Code: code, Message: message, Hint: hint}
}

func Plain(message string) ResponseWriter {
	return &PlainResponse{Message: message}
}
