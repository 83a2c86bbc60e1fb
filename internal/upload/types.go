package upload

import (
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	// MinPartSize is the smallest non-final part S3 accepts.
	MinPartSize = 5 * 1024 * 1024

	DefaultMaxConcurrentUploads = 1
	DefaultAbortTimeout         = 30 * time.Second
)

// Target identifies the object a multipart upload writes to.
type Target struct {
	Bucket      string
	Key         string
	ContentType string
	Metadata    map[string]string
}

// Validate reports missing identity fields.
func (t Target) Validate() error {
	if t.Bucket == "" {
		return &Error{Op: "validate", Key: t.Key, Err: errMissingBucket}
	}
	if t.Key == "" {
		return &Error{Op: "validate", Bucket: t.Bucket, Err: errMissingKey}
	}
	return nil
}

// Part is a successfully uploaded part as the completion call expects it.
type Part struct {
	PartNumber int32
	ETag       string
}

// Completion is the collaborator's response to a completed upload.
type Completion struct {
	Bucket    string
	Key       string
	Location  string
	ETag      string
	VersionID string
	Parts     int
	Size      int64
}

// PartNumberEncoding selects how a part number is put on the wire.
// Typed SDK clients ignore it; gateways that proxy untyped payloads honor it.
type PartNumberEncoding int

const (
	EncodingNumeric PartNumberEncoding = iota
	EncodingText
)

func (e PartNumberEncoding) String() string {
	switch e {
	case EncodingNumeric:
		return "numeric"
	case EncodingText:
		return "text"
	default:
		return "unknown"
	}
}

// Encode renders n as the encoding expects: a bare number or a quoted string.
func (e PartNumberEncoding) Encode(n int32) string {
	if e == EncodingText {
		return strconv.Quote(strconv.Itoa(int(n)))
	}
	return strconv.Itoa(int(n))
}

func (e PartNumberEncoding) flip() PartNumberEncoding {
	if e == EncodingText {
		return EncodingNumeric
	}
	return EncodingText
}

// ParseEncoding parses "numeric" or "text".
func ParseEncoding(s string) (PartNumberEncoding, bool) {
	switch s {
	case "", "numeric":
		return EncodingNumeric, true
	case "text":
		return EncodingText, true
	}
	return EncodingNumeric, false
}

// PartInput carries everything needed to upload one part.
type PartInput struct {
	Target     Target
	UploadID   string
	PartNumber int32
	Encoding   PartNumberEncoding
	Body       []byte
}

// EventKind enumerates stream notifications.
type EventKind int

const (
	EventReady EventKind = iota
	EventPartUploaded
	EventFinished
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventPartUploaded:
		return "part_uploaded"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is delivered to Options.OnEvent from the stream's event loop.
// Body is only set for EventPartUploaded and must not be retained.
type Event struct {
	Kind       EventKind
	UploadID   string
	PartNumber int32
	Body       []byte
	ETag       string
	Err        error
	Completion *Completion
}

// Options configures a Stream. The zero value is usable.
type Options struct {
	// PartSize is the buffered size that triggers a part upload.
	// Values below PartSizeFloor are raised to it.
	PartSize int

	// PartSizeFloor is the store-mandated minimum part size. Default: MinPartSize.
	PartSizeFloor int

	// MaxConcurrentUploads bounds in-flight part uploads. Default: 1.
	MaxConcurrentUploads int

	// DisableAutoAbort keeps the session alive after a failure so the
	// caller can recover it or call Abort itself.
	DisableAutoAbort bool

	// PartNumberEncoding is the initial part number encoding.
	PartNumberEncoding PartNumberEncoding

	// AbortTimeout bounds the best-effort abort call. Default: 30s.
	AbortTimeout time.Duration

	Logger  log.Logger
	OnEvent func(Event)
}

func (o Options) withDefaults() Options {
	if o.PartSizeFloor <= 0 {
		o.PartSizeFloor = MinPartSize
	}
	if o.PartSize < o.PartSizeFloor {
		o.PartSize = o.PartSizeFloor
	}
	if o.MaxConcurrentUploads <= 0 {
		o.MaxConcurrentUploads = DefaultMaxConcurrentUploads
	}
	if o.AbortTimeout <= 0 {
		o.AbortTimeout = DefaultAbortTimeout
	}
	if o.Logger == nil {
		o.Logger = log.NewLogger()
	}
	return o
}
