package upload

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	ErrClosed             = errors.New("upload: stream closed")
	ErrAborted            = errors.New("upload: aborted by caller")
	ErrCompleting         = errors.New("upload: completion in progress")
	ErrPartNumberEncoding = errors.New("upload: part number encoding rejected")

	errMissingBucket = errors.New("bucket is required")
	errMissingKey    = errors.New("key is required")
)

// Error records the collaborator operation that failed and the object it
// was operating on.
type Error struct {
	Op         string
	Bucket     string
	Key        string
	PartNumber int32
	Err        error
}

func (e *Error) Error() string {
	obj := e.Key
	if e.Bucket != "" {
		obj = e.Bucket + "/" + e.Key
	}
	if e.PartNumber > 0 {
		return fmt.Sprintf("%s %s part %d: %v", e.Op, obj, e.PartNumber, e.Err)
	}
	if obj == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, obj, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, target Target, partNumber int32, err error) *Error {
	return &Error{
		Op:         op,
		Bucket:     target.Bucket,
		Key:        target.Key,
		PartNumber: partNumber,
		Err:        err,
	}
}

// IsPartNumberEncoding reports whether err means the collaborator rejected
// the shape of the part number rather than the part itself.
func IsPartNumberEncoding(err error) bool {
	if errors.Is(err, ErrPartNumberEncoding) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidParameterType", "SerializationException":
			return true
		}
	}
	return false
}
