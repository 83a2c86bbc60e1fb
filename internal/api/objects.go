package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	units "github.com/docker/go-units"
	"github.com/minio/minio-go/v7"

	"s3pipe/internal/combine"
	"s3pipe/internal/config"
	"s3pipe/internal/response"
	"s3pipe/internal/upload"
)

const (
	maxFormMemory  = 32 << 20
	metadataPrefix = "X-Meta-"
)

// ObjectStore is a multipart collaborator that can also read objects back.
type ObjectStore interface {
	upload.Client
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type ObjectAPI struct {
	store        ObjectStore
	bucket       string
	streamConfig *config.StreamConfig
	logger       log.Logger
	onEvent      func(upload.Event)
}

func NewObjectAPI(store ObjectStore, bucket string, streamConfig *config.StreamConfig, logger log.Logger, onEvent func(upload.Event)) *ObjectAPI {
	return &ObjectAPI{
		store:        store,
		bucket:       bucket,
		streamConfig: streamConfig,
		logger:       logger,
		onEvent:      onEvent,
	}
}

// Register mounts the object routes on mux behind wrap.
func (h *ObjectAPI) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("PUT /v1/objects/{key...}", wrap(http.HandlerFunc(h.HandlePut)))
	mux.Handle("POST /v1/objects/{key...}", wrap(http.HandlerFunc(h.HandlePost)))
	mux.Handle("GET /v1/objects/{key...}", wrap(http.HandlerFunc(h.HandleGet)))
}

type objectInfo struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Location  string `json:"location,omitempty"`
	ETag      string `json:"etag,omitempty"`
	VersionID string `json:"version_id,omitempty"`
	Parts     int    `json:"parts"`
	Size      int64  `json:"size"`
}

// HandlePut streams the request body into one object.
func (h *ObjectAPI) HandlePut(w http.ResponseWriter, r *http.Request) {
	target, opts, ok := h.prepare(w, r)
	if !ok {
		return
	}
	target.ContentType = r.Header.Get("Content-Type")

	h.stream(w, r, target, opts, r.Body)
}

// HandlePost concatenates the "files" fields of a multipart form, in order,
// into one object.
func (h *ObjectAPI) HandlePost(w http.ResponseWriter, r *http.Request) {
	target, opts, ok := h.prepare(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		response.Error("bad_request", "Invalid multipart form", err.Error()).WriteStatus(w, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		response.Error("bad_request", "No files provided", `Send one or more "files" form fields`).WriteStatus(w, http.StatusBadRequest)
		return
	}
	if ct := headers[0].Header.Get("Content-Type"); ct != "" {
		target.ContentType = ct
	}

	sources, err := openAll(headers)
	if err != nil {
		response.Error("bad_request", "Failed to open uploaded file", err.Error()).WriteStatus(w, http.StatusBadRequest)
		return
	}
	body := combine.NewReader(sources...)
	defer body.Close()

	h.stream(w, r, target, opts, body)
}

// HandleGet streams an object back to the client.
func (h *ObjectAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		response.Error("bad_request", "Object key is required", "GET /v1/objects/<key>").WriteStatus(w, http.StatusBadRequest)
		return
	}

	body, err := h.store.GetObject(r.Context(), h.bucket, key)
	if err != nil {
		if isNotFound(err) {
			response.Error("not_found", fmt.Sprintf("Object %s not found", key), "").WriteStatus(w, http.StatusNotFound)
			return
		}
		h.logger.Errorf("Failed to get %s/%s: %v", h.bucket, key, err)
		response.Error("storage_error", "Failed to read object", err.Error()).WriteStatus(w, http.StatusBadGateway)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warnf("Failed to stream %s/%s: %v", h.bucket, key, err)
	}
}

func (h *ObjectAPI) prepare(w http.ResponseWriter, r *http.Request) (upload.Target, upload.Options, bool) {
	key := r.PathValue("key")
	if key == "" {
		response.Error("bad_request", "Object key is required", r.Method+" /v1/objects/<key>").WriteStatus(w, http.StatusBadRequest)
		return upload.Target{}, upload.Options{}, false
	}

	opts := h.streamConfig.Options(h.logger, h.onEvent)
	if raw := r.URL.Query().Get("part_size"); raw != "" {
		size, err := config.ParseByteSize(raw)
		if err == nil {
			opts.PartSize, err = size.Int()
		}
		if err != nil || size == 0 {
			response.Error("bad_request", "Invalid part_size", "Use a size such as 8MiB").WriteStatus(w, http.StatusBadRequest)
			return upload.Target{}, upload.Options{}, false
		}
	}

	target := upload.Target{Bucket: h.bucket, Key: key, Metadata: metadataFrom(r.Header)}
	return target, opts, true
}

func (h *ObjectAPI) stream(w http.ResponseWriter, r *http.Request, target upload.Target, opts upload.Options, body io.Reader) {
	s := upload.NewStream(r.Context(), h.store, target, opts)
	src := &sourceReader{r: body}

	if _, err := io.Copy(s, src); err != nil {
		if src.err == nil {
			h.writeUploadError(w, err)
			return
		}
		if abortErr := s.Abort(); abortErr != nil {
			h.logger.Warnf("Failed to abort upload of %s: %v", target.Key, abortErr)
		}
		response.Error("bad_request", "Failed to read request body", src.err.Error()).WriteStatus(w, http.StatusBadRequest)
		return
	}

	if err := s.Close(); err != nil {
		h.writeUploadError(w, err)
		return
	}

	completion, _ := s.Result()
	h.logger.Infof("Stored %s/%s (%s, %d parts)", completion.Bucket, completion.Key, units.HumanSize(float64(completion.Size)), completion.Parts)
	response.Data("Object uploaded", objectInfo{
		Bucket:    completion.Bucket,
		Key:       completion.Key,
		Location:  completion.Location,
		ETag:      completion.ETag,
		VersionID: completion.VersionID,
		Parts:     completion.Parts,
		Size:      completion.Size,
	}).WriteStatus(w, http.StatusCreated)
}

func (h *ObjectAPI) writeUploadError(w http.ResponseWriter, err error) {
	var uploadErr *upload.Error
	if errors.As(err, &uploadErr) {
		response.Error("upload_failed", "Upload failed during "+uploadErr.Op, err.Error()).WriteStatus(w, http.StatusBadGateway)
		return
	}
	response.Error("upload_failed", "Upload failed", err.Error()).WriteStatus(w, http.StatusInternalServerError)
}

// sourceReader remembers a read error so it can be told apart from a
// failed write into the stream.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

func openAll(headers []*multipart.FileHeader) ([]io.Reader, error) {
	sources := make([]io.Reader, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			for _, src := range sources {
				src.(io.Closer).Close()
			}
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		sources = append(sources, f)
	}
	return sources, nil
}

func metadataFrom(header http.Header) map[string]string {
	var metadata map[string]string
	for name, values := range header {
		if len(values) == 0 || !strings.HasPrefix(name, metadataPrefix) {
			continue
		}
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata[strings.ToLower(strings.TrimPrefix(name, metadataPrefix))] = values[0]
	}
	return metadata
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
