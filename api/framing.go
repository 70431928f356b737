package api

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout: [4 bytes length (BigEndian)] [N bytes payload]
const frameHeaderSize = 4

// MaxMessageSize is the maximum allowed frame size (50MB).
const MaxMessageSize = 50 * 1024 * 1024

// maxAuthFrameSize bounds handshake frames, which arrive before the peer is
// trusted.
const maxAuthFrameSize = 4 * 1024

// ErrMessageTooLarge is returned when a frame exceeds its size limit.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// ReadMessage reads one length-prefixed frame of at most MaxMessageSize.
// A clean end of stream before the header returns io.EOF.
func ReadMessage(r io.Reader) ([]byte, error) {
	return readFrame(r, MaxMessageSize)
}

func readFrame(r io.Reader, limit uint32) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > limit {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, limit)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return buf, nil
}

// WriteMessage writes data as one length-prefixed frame. Header and body go
// out in a single Write.
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	frame := make([]byte, frameHeaderSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data))) // #nosec G115 - bounded by MaxMessageSize
	copy(frame[frameHeaderSize:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
