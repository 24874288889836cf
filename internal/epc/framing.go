package epc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrame bounds one framed message.
const MaxFrame = 16 << 20

const headerLen = 4

var ErrFrameTooLarge = errors.New("epc: frame too large")

// FrameReader reassembles length-prefixed frames from a byte stream that
// arrives in arbitrary pieces.
type FrameReader struct {
	buf []byte
}

// Feed appends received bytes.
func (r *FrameReader) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Next returns the next complete frame, or nil when more bytes are needed.
func (r *FrameReader) Next() ([]byte, error) {
	if len(r.buf) < headerLen {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(r.buf)
	if n > MaxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	end := headerLen + int(n)
	if len(r.buf) < end {
		return nil, nil
	}
	frame := make([]byte, n)
	copy(frame, r.buf[headerLen:end])
	r.buf = append(r.buf[:0], r.buf[end:]...)
	return frame, nil
}

// Buffered returns the number of bytes not yet consumed.
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// FrameWriter queues frames and writes them out as the peer accepts them.
type FrameWriter struct {
	buf []byte
}

// Queue appends one frame holding payload.
func (w *FrameWriter) Queue(payload []byte) error {
	if len(payload) > MaxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, payload...)
	return nil
}

// Pending returns the number of bytes still to be written.
func (w *FrameWriter) Pending() int {
	return len(w.buf)
}

// Flush writes queued bytes with write until everything is out or write
// fails. Bytes written before a failure are not repeated.
func (w *FrameWriter) Flush(write func([]byte) (int, error)) error {
	for len(w.buf) > 0 {
		n, err := write(w.buf)
		if n > 0 {
			w.buf = append(w.buf[:0], w.buf[n:]...)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// WriteMessage encodes v as one frame on a blocking writer.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fw FrameWriter
	if err := fw.Queue(payload); err != nil {
		return err
	}
	return fw.Flush(w.Write)
}

// ReadMessage reads one frame from a blocking reader and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", errBadMessage, err)
	}
	return nil
}
