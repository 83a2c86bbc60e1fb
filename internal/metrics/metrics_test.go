package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3pipe/internal/upload"
	"s3pipe/internal/upload/uploadtest"
)

func TestRecorder_Observe(t *testing.T) {
	r := NewRecorder()

	r.Observe(upload.Event{Kind: upload.EventReady, UploadID: "u1"})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UploadsInProgress))

	r.Observe(upload.Event{Kind: upload.EventPartUploaded, PartNumber: 1, Body: make([]byte, 2048)})
	r.Observe(upload.Event{Kind: upload.EventPartUploaded, PartNumber: 2, Err: errors.New("boom")})
	r.Observe(upload.Event{Kind: upload.EventFailed, UploadID: "u1"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.PartsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PartsTotal.WithLabelValues("failure")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.UploadedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UploadsTotal.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.UploadsInProgress))
}

func TestRecorder_FailureBeforeSession(t *testing.T) {
	r := NewRecorder()

	r.Observe(upload.Event{Kind: upload.EventFailed, Err: errors.New("AccessDenied")})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.UploadsInProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UploadsTotal.WithLabelValues("failed")))
}

func TestRecorder_ObservesStream(t *testing.T) {
	r := NewRecorder()
	client := &uploadtest.Client{}

	s := upload.NewStream(context.Background(), client, upload.Target{Bucket: "b", Key: "k"}, upload.Options{
		PartSize:      4,
		PartSizeFloor: 1,
		OnEvent:       r.Observe,
	})
	_, err := s.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, 2.0, testutil.ToFloat64(r.PartsTotal.WithLabelValues("success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.UploadedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.UploadsTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.UploadsInProgress))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.Observe(upload.Event{Kind: upload.EventReady, UploadID: "u1"})

	handler := r.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("get", "418")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "s3pipe_uploads_in_progress 1"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
