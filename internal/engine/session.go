package engine

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/clipdeck/internal/audio"
)

// session is the live binding of a slot's clip to the device. The device
// reads it on its own goroutine; the engine only looks at the cursor.
type session struct {
	slot   int
	clip   *audio.Clip
	cursor atomic.Int64
}

func newSession(slot int, clip *audio.Clip) *session {
	return &session{slot: slot, clip: clip}
}

func (s *session) Read(p []byte) (int, error) {
	off := s.cursor.Load()
	if off >= int64(len(s.clip.Samples)) {
		return 0, io.EOF
	}
	n := copy(p, s.clip.Samples[off:])
	s.cursor.Add(int64(n))
	return n, nil
}

func (s *session) position() time.Duration {
	return s.clip.PositionAt(s.cursor.Load())
}
