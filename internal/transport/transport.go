// Package transport implements the length-prefixed, multi-frame message
// transport carried over a plain TCP connection between a watcher client
// and the watcher server. One connection corresponds to one logical
// client: the dealer/router identity frame that a ZeroMQ ROUTER socket
// would auto-prepend has no equivalent need here, since the connection
// itself already distinguishes one client from another. The server
// assigns each accepted connection an opaque client id for logging and
// callback purposes (internal/watcherserver), matching the role the
// identity frame plays in the protocol description.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrames bounds the number of frames in a single message so a
// corrupt or malicious peer cannot force an unbounded read loop.
const MaxFrames = 64

// MaxFrameSize bounds a single frame, generously sized for a
// zstd-compressed full-feed table burst payload.
const MaxFrameSize = 64 << 20

// WriteMessage writes frames as one wire message: a 2-byte frame count
// followed by, for each frame, a 4-byte length and its bytes.
func WriteMessage(w io.Writer, frames [][]byte) error {
	if len(frames) > MaxFrames {
		return fmt.Errorf("transport: %d frames exceeds limit %d", len(frames), MaxFrames)
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(frames)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("transport: write frame count: %w", err)
	}
	var lenBuf [4]byte
	for i, f := range frames {
		if len(f) > MaxFrameSize {
			return fmt.Errorf("transport: frame %d size %d exceeds limit %d", i, len(f), MaxFrameSize)
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("transport: write frame %d length: %w", i, err)
		}
		if len(f) == 0 {
			continue
		}
		if _, err := w.Write(f); err != nil {
			return fmt.Errorf("transport: write frame %d body: %w", i, err)
		}
	}
	return nil
}

// ReadMessage reads one wire message written by WriteMessage.
func ReadMessage(r io.Reader) ([][]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint16(hdr[:])
	if int(count) > MaxFrames {
		return nil, fmt.Errorf("transport: peer claims %d frames, exceeds limit %d", count, MaxFrames)
	}
	frames := make([][]byte, count)
	var lenBuf [4]byte
	for i := range frames {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("transport: read frame %d length: %w", i, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > MaxFrameSize {
			return nil, fmt.Errorf("transport: frame %d size %d exceeds limit %d", i, n, MaxFrameSize)
		}
		if n == 0 {
			continue
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("transport: read frame %d body: %w", i, err)
		}
		frames[i] = buf
	}
	return frames, nil
}
