// Package upload streams bytes of unknown length into a multipart upload.
//
// A Stream buffers writes in a Queue until a part's worth of data is held,
// uploads parts with bounded concurrency, and completes the upload once the
// caller closes it. Any failure aborts the remote session unless the caller
// opted out. All stream state is owned by a single event loop goroutine;
// Write, Close and Abort talk to it over channels.
package upload

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	units "github.com/docker/go-units"
)

// Stream is an io.WriteCloser that uploads what is written to it as one
// object. Writes block while MaxConcurrentUploads part uploads are in
// flight, so a fast producer runs at the pace of the store.
type Stream struct {
	ctx    context.Context
	client Client
	target Target
	opts   Options
	logger log.Logger

	writes      chan writeRequest
	closes      chan struct{}
	aborts      chan chan error
	inits       chan initResult
	partResults chan partResult
	completions chan completeResult

	ready chan struct{}
	done  chan struct{}
	quit  chan struct{}

	// Owned by the event loop.
	queue           *Queue
	uploadID        string
	parts           []Part
	size            int64
	nextPart        int32
	active          int
	encoding        PartNumberEncoding
	encodingFlipped bool
	pending         []chan error
	initResolved    bool
	endSignaled     bool
	finalDrained    bool
	completing      bool
	finished        bool

	// Set by the loop before done is closed.
	completion *Completion
	err        error

	// Session kept alive after a failure when auto-abort is disabled.
	mu       sync.Mutex
	retained string
}

type writeRequest struct {
	chunk []byte
	ack   chan error
}

type initResult struct {
	uploadID string
	err      error
}

type partResult struct {
	input *PartInput
	etag  string
	err   error
}

type completeResult struct {
	completion *Completion
	err        error
}

// NewStream starts creating the multipart session for target and returns
// immediately. Writes are buffered until the session exists.
func NewStream(ctx context.Context, client Client, target Target, opts Options) *Stream {
	opts = opts.withDefaults()
	s := &Stream{
		ctx:         ctx,
		client:      client,
		target:      target,
		opts:        opts,
		logger:      opts.Logger,
		writes:      make(chan writeRequest),
		closes:      make(chan struct{}),
		aborts:      make(chan chan error),
		inits:       make(chan initResult),
		partResults: make(chan partResult),
		completions: make(chan completeResult),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		quit:        make(chan struct{}),
		queue:       NewQueue(opts.PartSize, opts.PartSizeFloor),
		encoding:    opts.PartNumberEncoding,
	}

	go s.initialize()
	go s.run()

	return s
}

// Ready is closed once the multipart session has been created.
func (s *Stream) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the upload finished or failed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Result returns the completed upload or the error that ended the stream.
// It blocks until Done is closed.
func (s *Stream) Result() (*Completion, error) {
	<-s.done
	return s.completion, s.err
}

// Write buffers p and returns once the stream can take more data.
func (s *Stream) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	req := writeRequest{chunk: chunk, ack: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.quit:
		return 0, s.closedErr()
	}

	if err := <-req.ack; err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close signals end of input, uploads whatever is buffered as the final
// part and completes the upload. It returns when the stream is done.
// Calling Close again returns the same result without a second completion.
func (s *Stream) Close() error {
	select {
	case s.closes <- struct{}{}:
	case <-s.quit:
	}
	<-s.done
	return s.err
}

// Abort stops the stream and aborts the remote session. Before the session
// exists it is aborted as soon as it is created. After a failure with
// auto-abort disabled it aborts the retained session and returns the
// collaborator's answer. After a successful completion it returns ErrClosed.
func (s *Stream) Abort() error {
	reply := make(chan error, 1)
	select {
	case s.aborts <- reply:
		return <-reply
	case <-s.quit:
	}

	if id := s.takeRetained(); id != "" {
		return s.abortSession(id)
	}
	if s.completion != nil {
		return ErrClosed
	}
	return nil
}

func (s *Stream) closedErr() error {
	if s.err != nil {
		return s.err
	}
	return ErrClosed
}

func (s *Stream) initialize() {
	uploadID, err := s.client.CreateMultipartUpload(s.ctx, s.target)
	s.inits <- initResult{uploadID: uploadID, err: err}
}

func (s *Stream) run() {
	defer close(s.quit)

	cancelled := s.ctx.Done()
	for !s.idle() {
		select {
		case <-cancelled:
			cancelled = nil
			s.handleCancel()
		case res := <-s.inits:
			s.handleInit(res)
		case req := <-s.writes:
			s.handleWrite(req)
		case <-s.closes:
			s.endSignaled = true
			s.finalize()
		case reply := <-s.aborts:
			s.handleAbort(reply)
		case res := <-s.partResults:
			s.handlePart(res)
		case res := <-s.completions:
			s.handleCompletion(res)
		}
	}
}

// idle reports whether nothing can reach the loop anymore.
func (s *Stream) idle() bool {
	return s.finished && s.initResolved && s.active == 0 && !s.completing
}

// canAccept is the backpressure rule: initialized and below the
// concurrency limit.
func (s *Stream) canAccept() bool {
	return !s.finished && s.uploadID != "" && s.active < s.opts.MaxConcurrentUploads
}

func (s *Stream) handleInit(res initResult) {
	s.initResolved = true

	if res.err != nil {
		s.fail(newError("CreateMultipartUpload", s.target, 0, res.err))
		return
	}
	if s.finished {
		// Aborted while the session was being created.
		s.abortInBackground(res.uploadID)
		return
	}

	s.uploadID = res.uploadID
	close(s.ready)
	s.logger.Debugf("Multipart upload %s started for %s/%s", res.uploadID, s.target.Bucket, s.target.Key)
	s.emit(Event{Kind: EventReady, UploadID: res.uploadID})

	s.openGate()
	s.finalize()
}

// handleCancel ends the stream when its context is cancelled. A completion
// already in flight resolves on its own through the same context.
func (s *Stream) handleCancel() {
	if s.finished || s.completing {
		return
	}
	s.failAndAbort(newError("Write", s.target, 0, context.Cause(s.ctx)))
}

func (s *Stream) handleWrite(req writeRequest) {
	if s.finished {
		req.ack <- s.closedErr()
		return
	}
	if s.endSignaled {
		req.ack <- ErrClosed
		return
	}

	if body, ok := s.queue.Push(req.chunk); ok {
		s.startNextPart(body)
	}

	if s.canAccept() {
		req.ack <- nil
		return
	}
	s.pending = append(s.pending, req.ack)
}

func (s *Stream) handleAbort(reply chan error) {
	if s.finished {
		if id := s.takeRetained(); id != "" {
			go func() { reply <- s.abortSession(id) }()
			return
		}
		if s.completion != nil {
			reply <- ErrClosed
			return
		}
		reply <- nil
		return
	}
	if s.completing {
		reply <- ErrCompleting
		return
	}

	id := s.fail(ErrAborted)
	if id == "" {
		// handleInit aborts the session once it exists.
		reply <- nil
		return
	}
	s.takeRetained()
	go func() { reply <- s.abortSession(id) }()
}

func (s *Stream) handlePart(res partResult) {
	s.active--
	in := res.input

	if s.finished {
		return
	}

	if res.err != nil {
		if IsPartNumberEncoding(res.err) && (!s.encodingFlipped || in.Encoding != s.encoding) {
			if !s.encodingFlipped {
				s.encodingFlipped = true
				s.encoding = s.encoding.flip()
			}
			s.logger.Warnf("Part %d rejected with %s part number, retrying as %s: %v", in.PartNumber, in.Encoding, s.encoding, res.err)
			s.startPart(in.PartNumber, in.Body)
			return
		}

		s.emit(Event{Kind: EventPartUploaded, UploadID: in.UploadID, PartNumber: in.PartNumber, Body: in.Body, Err: res.err})
		s.failAndAbort(newError("UploadPart", s.target, in.PartNumber, res.err))
		return
	}

	s.parts = append(s.parts, Part{PartNumber: in.PartNumber, ETag: res.etag})
	s.size += int64(len(in.Body))
	s.emit(Event{Kind: EventPartUploaded, UploadID: in.UploadID, PartNumber: in.PartNumber, Body: in.Body, ETag: res.etag})

	s.openGate()
	s.finalize()
}

func (s *Stream) handleCompletion(res completeResult) {
	s.completing = false

	if res.err != nil {
		s.failAndAbort(newError("CompleteMultipartUpload", s.target, 0, res.err))
		return
	}

	completion := res.completion
	if completion == nil {
		completion = &Completion{Bucket: s.target.Bucket, Key: s.target.Key}
	}
	completion.Parts = len(s.parts)
	completion.Size = s.size
	s.finish(completion)
}

// openGate lets the queue drain again if a slot is free and releases
// producers waiting for one.
func (s *Stream) openGate() {
	if !s.canAccept() {
		return
	}
	if body, ok := s.queue.SetDrainable(true); ok {
		s.startNextPart(body)
	}
	s.releasePending(nil)
}

func (s *Stream) releasePending(err error) {
	if err == nil && !s.canAccept() && !s.finished {
		return
	}
	for _, ack := range s.pending {
		ack <- err
	}
	s.pending = nil
}

func (s *Stream) startNextPart(body []byte) {
	s.nextPart++
	s.startPart(s.nextPart, body)
}

func (s *Stream) startPart(partNumber int32, body []byte) {
	s.active++
	if s.active >= s.opts.MaxConcurrentUploads {
		s.queue.SetDrainable(false)
	}

	input := &PartInput{
		Target:     s.target,
		UploadID:   s.uploadID,
		PartNumber: partNumber,
		Encoding:   s.encoding,
		Body:       body,
	}
	s.logger.Debugf("Uploading part %d (%s) [active=%d]", partNumber, units.HumanSize(float64(len(body))), s.active)

	go func() {
		etag, err := s.client.UploadPart(s.ctx, input)
		s.partResults <- partResult{input: input, etag: etag, err: err}
	}()
}

// finalize advances end-of-input handling: force the last drain once a slot
// is free, then complete once nothing is in flight.
func (s *Stream) finalize() {
	if !s.endSignaled || s.finished || s.uploadID == "" {
		return
	}

	if !s.finalDrained {
		if s.active >= s.opts.MaxConcurrentUploads {
			return
		}
		s.finalDrained = true
		s.queue.SetDrainable(false)
		s.startNextPart(s.queue.Drain())
		return
	}

	if s.active > 0 || s.completing {
		return
	}
	s.completing = true

	parts := slices.Clone(s.parts)
	slices.SortFunc(parts, func(a, b Part) int { return cmp.Compare(a.PartNumber, b.PartNumber) })

	uploadID := s.uploadID
	go func() {
		completion, err := s.client.CompleteMultipartUpload(s.ctx, s.target, uploadID, parts)
		s.completions <- completeResult{completion: completion, err: err}
	}()
}

// fail moves the stream to its failed terminal state and returns the
// session id that was live, if any.
func (s *Stream) fail(err error) string {
	if s.finished {
		return ""
	}
	s.finished = true
	s.err = err

	uploadID := s.uploadID
	s.uploadID = ""
	s.queue.SetDrainable(false)
	s.queue.Drain()
	s.releasePending(err)

	if uploadID != "" {
		s.mu.Lock()
		s.retained = uploadID
		s.mu.Unlock()
	}

	s.logger.Errorf("Upload of %s/%s failed: %v", s.target.Bucket, s.target.Key, err)
	s.emit(Event{Kind: EventFailed, UploadID: uploadID, Err: err})
	close(s.done)

	return uploadID
}

func (s *Stream) failAndAbort(err error) {
	if s.fail(err) == "" || s.opts.DisableAutoAbort {
		return
	}
	if id := s.takeRetained(); id != "" {
		s.abortInBackground(id)
	}
}

func (s *Stream) finish(completion *Completion) {
	s.finished = true
	s.completion = completion
	s.uploadID = ""
	s.releasePending(nil)

	s.logger.Donef("Uploaded %s/%s in %d parts (%s)", s.target.Bucket, s.target.Key, completion.Parts, units.HumanSize(float64(completion.Size)))
	s.emit(Event{Kind: EventFinished, Completion: completion})
	close(s.done)
}

func (s *Stream) takeRetained() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.retained
	s.retained = ""
	return id
}

func (s *Stream) abortSession(uploadID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.opts.AbortTimeout)
	defer cancel()

	if err := s.client.AbortMultipartUpload(ctx, s.target, uploadID); err != nil {
		s.logger.Warnf("Failed to abort multipart upload %s: %v", uploadID, err)
		return newError("AbortMultipartUpload", s.target, 0, err)
	}
	s.logger.Debugf("Aborted multipart upload %s", uploadID)
	return nil
}

// abortInBackground is the fire-and-forget cleanup used on failures.
func (s *Stream) abortInBackground(uploadID string) {
	go func() {
		_ = s.abortSession(uploadID)
	}()
}

func (s *Stream) emit(e Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(e)
	}
}
