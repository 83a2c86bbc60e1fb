package upload

// Queue buffers chunks until at least threshold bytes are held.
//
// A full queue drains if and only if it is drainable. The stream closes the
// gate while its part uploads are saturated and must reopen it when a slot
// frees, otherwise a full queue sits forever.
type Queue struct {
	chunks    [][]byte
	size      int
	threshold int
	drainable bool
	onReset   func()
}

// NewQueue returns a closed queue whose effective threshold is
// max(threshold, floor). A non-positive floor means MinPartSize.
func NewQueue(threshold, floor int) *Queue {
	if floor <= 0 {
		floor = MinPartSize
	}
	if threshold < floor {
		threshold = floor
	}
	return &Queue{threshold: threshold}
}

// Threshold returns the effective drain threshold.
func (q *Queue) Threshold() int {
	return q.threshold
}

// Len returns the number of buffered bytes.
func (q *Queue) Len() int {
	return q.size
}

// Drainable reports whether the gate is open.
func (q *Queue) Drainable() bool {
	return q.drainable
}

// OnReset registers fn to be called each time the buffer is emptied.
func (q *Queue) OnReset(fn func()) {
	q.onReset = fn
}

// Full reports whether the buffered size reached the threshold.
func (q *Queue) Full() bool {
	return q.size >= q.threshold
}

// Push appends chunk without copying it. If the queue is now full and
// drainable it drains and returns the body.
func (q *Queue) Push(chunk []byte) ([]byte, bool) {
	q.chunks = append(q.chunks, chunk)
	q.size += len(chunk)
	return q.drainIfNeeded()
}

// SetDrainable sets the gate. Opening the gate on a full queue drains it
// immediately.
func (q *Queue) SetDrainable(drainable bool) ([]byte, bool) {
	q.drainable = drainable
	return q.drainIfNeeded()
}

// Drain returns all buffered bytes as one slice and empties the queue,
// regardless of size or gate. An empty queue yields an empty, non-nil body.
func (q *Queue) Drain() []byte {
	body := make([]byte, 0, q.size)
	for _, chunk := range q.chunks {
		body = append(body, chunk...)
	}
	q.reset()
	return body
}

func (q *Queue) drainIfNeeded() ([]byte, bool) {
	if !q.drainable || !q.Full() {
		return nil, false
	}
	return q.Drain(), true
}

func (q *Queue) reset() {
	q.chunks = nil
	q.size = 0
	if q.onReset != nil {
		q.onReset()
	}
}
