package uploadtest

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// ServerUploadID is the upload id every session on Server gets.
const ServerUploadID = "stub-upload-id"

// Server speaks just enough of the path-style S3 REST protocol for
// multipart uploads and object reads. Authentication is not checked.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	contentType string
	metadata    map[string]string
	parts       map[int32][]byte
	completed   []int32
	aborted     []string
	objects     map[string][]byte
	partError   string
}

type completeRequest struct {
	Parts []struct {
		ETag       string `xml:"ETag"`
		PartNumber int32  `xml:"PartNumber"`
	} `xml:"Part"`
}

// NewServer starts a Server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		metadata: map[string]string{},
		parts:    map[int32][]byte{},
		objects:  map[string][]byte{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Host returns the server address without a scheme.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// RejectParts makes every UploadPart fail with the given S3 error code.
func (s *Server) RejectParts(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partError = code
}

// PutObject stores an object directly, for read tests.
func (s *Server) PutObject(bucket, key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = body
}

func (s *Server) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[bucket+"/"+key]
	return body, ok
}

func (s *Server) Part(partNumber int32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.parts[partNumber]
	return body, ok
}

func (s *Server) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

func (s *Server) Metadata(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[strings.ToLower(name)]
}

// Completed returns the part numbers of every completion, in request order.
func (s *Server) Completed() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.completed...)
}

func (s *Server) Aborted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.aborted...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	object := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(object, "/")

	switch {
	case r.Method == http.MethodPost && q.Has("uploads"):
		s.contentType = r.Header.Get("Content-Type")
		for name, values := range r.Header {
			if meta, ok := strings.CutPrefix(strings.ToLower(name), "x-amz-meta-"); ok {
				s.metadata[meta] = values[0]
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId></InitiateMultipartUploadResult>`, bucket, key, ServerUploadID)

	case r.Method == http.MethodPut && q.Has("partNumber"):
		if s.partError != "" {
			writeError(w, http.StatusBadRequest, s.partError)
			return
		}
		if q.Get("uploadId") != ServerUploadID {
			writeError(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		n, err := strconv.Atoi(q.Get("partNumber"))
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "InvalidArgument")
			return
		}
		body, err := readPayload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		s.parts[int32(n)] = body
		w.Header().Set("ETag", fmt.Sprintf(`"part-%d"`, n))

	case r.Method == http.MethodPost && q.Has("uploadId"):
		var req completeRequest
		if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "MalformedXML")
			return
		}
		var data []byte
		for i, p := range req.Parts {
			if i > 0 && p.PartNumber <= req.Parts[i-1].PartNumber {
				writeError(w, http.StatusBadRequest, "InvalidPartOrder")
				return
			}
			data = append(data, s.parts[p.PartNumber]...)
		}
		for _, p := range req.Parts {
			s.completed = append(s.completed, p.PartNumber)
		}
		s.objects[object] = data
		s.parts = map[int32][]byte{}
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("x-amz-version-id", "v1")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult><Location>%s/%s</Location><Bucket>%s</Bucket><Key>%s</Key><ETag>"done-%d"</ETag></CompleteMultipartUploadResult>`, s.URL, object, bucket, key, len(req.Parts))

	case r.Method == http.MethodDelete && q.Has("uploadId"):
		s.aborted = append(s.aborted, q.Get("uploadId"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		body, ok := s.objects[object]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("ETag", `"object"`)
		w.Header().Set("Last-Modified", "Mon, 19 Oct 2026 10:00:00 GMT")
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}

	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

// readPayload returns the request body with any aws-chunked framing
// removed. Signed clients talking plain HTTP stream parts as
// "<hex size>;chunk-signature=<sig>\r\n<data>\r\n" frames ending with a
// zero-size frame and optional trailers.
func readPayload(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") &&
		!strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		return io.ReadAll(r.Body)
	}

	br := bufio.NewReader(r.Body)
	var body []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			// Trailers, if any, are not needed.
			return body, nil
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		body = append(body, chunk...)

		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>%s</Code><Message>stub rejected the request</Message><RequestId>stub</RequestId></Error>`, code)
}
