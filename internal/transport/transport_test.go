package transport

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{{1}, {}, []byte("collector-name"), {0, 0, 0, 42}}
	if err := WriteMessage(&buf, frames); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(got[i], frames[i]) {
			t.Errorf("frame %d = %v, want %v", i, got[i], frames[i])
		}
	}
}

func TestWriteMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	big := make([]byte, MaxFrameSize+1)
	if err := WriteMessage(&buf, [][]byte{big}); err == nil {
		t.Error("expected an error for a frame exceeding MaxFrameSize")
	}
}

func TestReadMessageRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 1, 0, 0, 0, 10}) // claims one 10-byte frame, supplies none
	if _, err := ReadMessage(&buf); err == nil {
		t.Error("expected an error reading a truncated stream")
	}
}
