package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))
	require.NoError(t, WriteMessage(&buf, nil))
	require.Equal(t, 4+5+4, buf.Len())

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg)

	msg, err = ReadMessage(&buf)
	require.NoError(t, err)
	require.Empty(t, msg)

	_, err = ReadMessage(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadMessageTooLarge(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxMessageSize+1)

	_, err := ReadMessage(bytes.NewReader(header))
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadMessageTruncated(t *testing.T) {
	frame := []byte{0, 0, 0, 10, 'a', 'b'}

	_, err := ReadMessage(bytes.NewReader(frame))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteMessageTooLarge(t *testing.T) {
	err := WriteMessage(io.Discard, make([]byte, MaxMessageSize+1))
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

// FuzzReadMessage feeds arbitrary bytes to the frame reader.
// Run with: go test -fuzz=FuzzReadMessage -fuzztime=30s ./api/
func FuzzReadMessage(f *testing.F) {
	f.Add([]byte{0, 0, 0, 3, 'a', 'b', 'c'})
	f.Add([]byte{0, 0, 0, 0})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})
	f.Add([]byte{0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := ReadMessage(bytes.NewReader(data))
		if err != nil {
			if !errors.Is(err, ErrMessageTooLarge) && len(data) >= 4 {
				length := binary.BigEndian.Uint32(data)
				if int(length) <= len(data)-4 {
					t.Fatalf("complete frame rejected: %v", err)
				}
			}
			return
		}

		var buf bytes.Buffer
		if err := WriteMessage(&buf, msg); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
		if !bytes.Equal(buf.Bytes(), data[:4+len(msg)]) {
			t.Fatalf("re-encoded frame differs")
		}
	})
}
