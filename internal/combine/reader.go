// Package combine concatenates ordered byte sources into one stream.
package combine

import (
	"errors"
	"io"
)

// Reader reads its sources one after another. A source is closed once it
// reports io.EOF if it implements io.Closer. The first error from any
// source, including a failed Close, is returned from every later Read.
type Reader struct {
	sources []io.Reader
	err     error
}

// NewReader returns a Reader over sources in the given order.
func NewReader(sources ...io.Reader) *Reader {
	return &Reader{sources: append([]io.Reader(nil), sources...)}
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	for len(r.sources) > 0 {
		head := r.sources[0]
		n, err := head.Read(p)

		if err == io.EOF {
			r.sources = r.sources[1:]
			if cerr := closeSource(head); cerr != nil {
				r.err = cerr
				return n, cerr
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			r.err = err
			return n, err
		}
		return n, nil
	}

	r.err = io.EOF
	return 0, io.EOF
}

// Close closes every source that has not been read to the end.
func (r *Reader) Close() error {
	var errs []error
	for _, src := range r.sources {
		if err := closeSource(src); err != nil {
			errs = append(errs, err)
		}
	}
	r.sources = nil
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	return errors.Join(errs...)
}

func closeSource(src io.Reader) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
