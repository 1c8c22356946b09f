package socket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultMaxDocumentBytes bounds one X12 document carried by VALIDATE.
const DefaultMaxDocumentBytes = 4 << 20

// requestOverhead covers the names, ids and token around the two documents.
const requestOverhead = 64 << 10

var (
	ErrEmptyFrame    = errors.New("socket: empty frame")
	ErrFrameTooLarge = errors.New("socket: frame too large")
)

// FrameLimit is the request frame size that fits a prod and test document of
// up to maxDocument bytes each.
func FrameLimit(maxDocument int) int {
	if maxDocument <= 0 {
		maxDocument = DefaultMaxDocumentBytes
	}
	return 2*maxDocument + requestOverhead
}

// WriteFrame writes a length-prefixed payload. limit <= 0 leaves only the
// bound of the 4-byte header.
func WriteFrame(w io.Writer, payload []byte, limit int) error {
	if exceeds(uint64(len(payload)), limit) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload. An oversized payload is
// discarded so the next frame stays readable, and ErrFrameTooLarge is
// returned; any other error leaves the stream unusable.
func ReadFrame(r *bufio.Reader, limit int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	sz := binary.BigEndian.Uint32(header[:])
	if sz == 0 {
		return nil, ErrEmptyFrame
	}
	if exceeds(uint64(sz), limit) {
		if _, err := io.CopyN(io.Discard, r, int64(sz)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, sz, limit)
	}
	payload := make([]byte, int(sz))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Recoverable reports whether err from ReadFrame left the stream aligned.
func Recoverable(err error) bool {
	return errors.Is(err, ErrEmptyFrame) || errors.Is(err, ErrFrameTooLarge)
}

func exceeds(n uint64, limit int) bool {
	if n > math.MaxUint32 {
		return true
	}
	return limit > 0 && n > uint64(limit)
}
