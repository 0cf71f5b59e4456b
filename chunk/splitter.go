package chunk

import (
	"io"

	"github.com/pkg/errors"
	"github.com/restic/chunker"
)

const (
	// Fixed cuts the source into windows of exactly fragmentSize bytes.
	Fixed = "fixed"
	// Rabin cuts on content-defined boundaries, using fragmentSize as the
	// largest fragment.
	Rabin = "rabin"

	// polynomial shared by every peer so equal content cuts identically
	rabinPoly = chunker.Pol(0x3DA3358B4DC173)

	// MinRabinSize is the smallest fragmentSize usable with Rabin.
	MinRabinSize = 1024
)

// splitter yields consecutive windows of a source. The returned slice is only
// valid until the next call. At the end of the source it returns io.EOF.
type splitter interface {
	Next() ([]byte, error)
}

type fixedSplitter struct {
	r   io.Reader
	buf []byte
}

func (s *fixedSplitter) Next() ([]byte, error) {
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return s.buf[:n], nil
	case err != nil:
		return nil, err
	}
	return s.buf[:n], nil
}

type rabinSplitter struct {
	c   *chunker.Chunker
	buf []byte
}

func (s *rabinSplitter) Next() ([]byte, error) {
	c, err := s.c.Next(s.buf)
	if errors.Cause(err) == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return c.Data, nil
}

// CheckBoundary validates a boundary name against a fragment size.
func CheckBoundary(boundary string, size int) error {
	switch boundary {
	case Fixed, "":
		return nil
	case Rabin:
		if size < MinRabinSize {
			return errors.Errorf("rabin boundaries need a fragment size of at least %d bytes, got %d", MinRabinSize, size)
		}
		return nil
	default:
		return errors.Errorf("unknown fragment boundary %q", boundary)
	}
}

func newSplitter(boundary string, r io.Reader, size int) (splitter, error) {
	if err := CheckBoundary(boundary, size); err != nil {
		return nil, err
	}
	if boundary == Rabin {
		max := uint(size)
		return &rabinSplitter{
			c:   chunker.NewWithBoundaries(r, rabinPoly, max/4, max),
			buf: make([]byte, max),
		}, nil
	}
	return &fixedSplitter{r: r, buf: make([]byte, size)}, nil
}
