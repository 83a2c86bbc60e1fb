// Package uploadtest provides an in-memory multipart collaborator for tests.
package uploadtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/smithy-go"

	"s3pipe/internal/upload"
)

var (
	ErrNoSuchUpload  = errors.New("NoSuchUpload: upload id does not match an active upload")
	ErrInvalidPart   = errors.New("InvalidPartOrder: parts must be strictly ascending")
	ErrMissingField  = errors.New("missing required field")
	ErrTestInjection = errors.New("injected failure")
)

// PartCall records one UploadPart invocation.
type PartCall struct {
	UploadID   string
	PartNumber int32
	Encoding   upload.PartNumberEncoding
	Size       int
	Err        error
}

// Client is a fake upload.Client. It enforces the collaborator contract:
// stale upload ids are rejected, completion requires strictly ascending
// part numbers, and RequireEncoding rejects other part number encodings.
type Client struct {
	// UploadID is returned by CreateMultipartUpload. Default: "upload-1".
	UploadID string

	CreateErr   error
	CompleteErr error
	AbortErr    error

	// CreateGate, when set, blocks CreateMultipartUpload until closed.
	CreateGate chan struct{}

	// RequireEncoding rejects parts sent with any other encoding.
	RequireEncoding *upload.PartNumberEncoding

	// FailPart returns an error to fail the given part, or nil.
	FailPart func(partNumber int32, attempt int) error

	// PartDelay is slept inside every UploadPart call.
	PartDelay time.Duration

	// HoldParts makes UploadPart wait until Release is called for its number.
	HoldParts bool

	mu          sync.Mutex
	active      map[string]bool
	gates       map[int32]chan struct{}
	attempts    map[int32]int
	inflight    int
	maxInflight int
	creates     int
	partCalls   []PartCall
	bodies      map[int32][]byte
	completes   [][]upload.Part
	aborts      []string
	objects     map[string][]byte
}

func (c *Client) CreateMultipartUpload(ctx context.Context, target upload.Target) (string, error) {
	if c.CreateGate != nil {
		select {
		case <-c.CreateGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++

	if target.Bucket == "" || target.Key == "" {
		return "", fmt.Errorf("%w: bucket and key", ErrMissingField)
	}
	if c.CreateErr != nil {
		return "", c.CreateErr
	}

	id := c.UploadID
	if id == "" {
		id = "upload-1"
	}
	if c.active == nil {
		c.active = map[string]bool{}
	}
	c.active[id] = true
	return id, nil
}

func (c *Client) UploadPart(ctx context.Context, in *upload.PartInput) (string, error) {
	c.mu.Lock()
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	if c.attempts == nil {
		c.attempts = map[int32]int{}
	}
	c.attempts[in.PartNumber]++
	attempt := c.attempts[in.PartNumber]
	var gate chan struct{}
	if c.HoldParts {
		gate = c.gate(in.PartNumber)
	}
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if c.PartDelay > 0 {
		time.Sleep(c.PartDelay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--

	err := c.checkPart(in, attempt)
	c.partCalls = append(c.partCalls, PartCall{
		UploadID:   in.UploadID,
		PartNumber: in.PartNumber,
		Encoding:   in.Encoding,
		Size:       len(in.Body),
		Err:        err,
	})
	if err != nil {
		return "", err
	}

	if c.bodies == nil {
		c.bodies = map[int32][]byte{}
	}
	c.bodies[in.PartNumber] = append([]byte(nil), in.Body...)
	return fmt.Sprintf("\"etag-%d\"", in.PartNumber), nil
}

func (c *Client) checkPart(in *upload.PartInput, attempt int) error {
	if in.Body == nil || in.PartNumber < 1 {
		return fmt.Errorf("%w: body and part number", ErrMissingField)
	}
	if c.RequireEncoding != nil && in.Encoding != *c.RequireEncoding {
		return fmt.Errorf("%w: part number must be %s", upload.ErrPartNumberEncoding, *c.RequireEncoding)
	}
	if !c.active[in.UploadID] {
		return ErrNoSuchUpload
	}
	if c.FailPart != nil {
		return c.FailPart(in.PartNumber, attempt)
	}
	return nil
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, target upload.Target, uploadID string, parts []upload.Part) (*upload.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completes = append(c.completes, append([]upload.Part(nil), parts...))

	if !c.active[uploadID] {
		return nil, ErrNoSuchUpload
	}
	for i := 1; i < len(parts); i++ {
		if parts[i].PartNumber <= parts[i-1].PartNumber {
			return nil, ErrInvalidPart
		}
	}
	if c.CompleteErr != nil {
		return nil, c.CompleteErr
	}

	delete(c.active, uploadID)
	if c.objects == nil {
		c.objects = map[string][]byte{}
	}
	var object []byte
	for _, p := range parts {
		object = append(object, c.bodies[p.PartNumber]...)
	}
	c.objects[target.Bucket+"/"+target.Key] = object

	return &upload.Completion{
		Bucket:   target.Bucket,
		Key:      target.Key,
		Location: "memory://" + target.Bucket + "/" + target.Key,
		ETag:     fmt.Sprintf("\"etag-%d-parts\"", len(parts)),
	}, nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, target upload.Target, uploadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.aborts = append(c.aborts, uploadID)
	if !c.active[uploadID] {
		return ErrNoSuchUpload
	}
	delete(c.active, uploadID)
	return c.AbortErr
}

// GetObject returns a completed object. Missing objects fail with the
// NoSuchKey API error S3 uses.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	object, ok := c.objects[bucket+"/"+key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return io.NopCloser(bytes.NewReader(object)), nil
}

// Release lets a held UploadPart call for partNumber return. It may be
// called before the call arrives.
func (c *Client) Release(partNumber int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.gate(partNumber))
}

func (c *Client) gate(partNumber int32) chan struct{} {
	if c.gates == nil {
		c.gates = map[int32]chan struct{}{}
	}
	g, ok := c.gates[partNumber]
	if !ok {
		g = make(chan struct{})
		c.gates[partNumber] = g
	}
	return g
}

func (c *Client) Creates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

func (c *Client) PartCalls() []PartCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PartCall(nil), c.partCalls...)
}

// Inflight returns the number of UploadPart calls currently running.
func (c *Client) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// MaxInflight returns the highest number of concurrent UploadPart calls seen.
func (c *Client) MaxInflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInflight
}

func (c *Client) Completes() [][]upload.Part {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]upload.Part(nil), c.completes...)
}

func (c *Client) Aborts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.aborts...)
}

// Object reassembles the uploaded bytes of the last completion.
func (c *Client) Object() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.completes) == 0 {
		return nil
	}
	var out []byte
	for _, p := range c.completes[len(c.completes)-1] {
		out = append(out, c.bodies[p.PartNumber]...)
	}
	return out
}
