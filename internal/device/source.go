package device

import (
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"

	"github.com/satindergrewal/clipdeck/internal/audio"
)

// Source pulls whole f32le frames from a clip reader and remembers when the
// reader ran dry. Backends render from it on their own goroutine.
type Source struct {
	r      io.Reader
	format audio.Format
	buf    []byte
	atEnd  atomic.Bool
}

// NewSource wraps r, which yields interleaved PCM in format.
func NewSource(r io.Reader, format audio.Format) *Source {
	return &Source{r: r, format: format}
}

// Format returns the PCM format of the source.
func (s *Source) Format() audio.Format { return s.format }

// AtEnd reports whether the reader has been exhausted.
func (s *Source) AtEnd() bool { return s.atEnd.Load() }

// ReadFrames reads up to n frames of raw PCM. The returned slice is reused
// by the next call and is empty once the source is drained.
func (s *Source) ReadFrames(n int) []byte {
	bpf := s.format.BytesPerFrame()
	if n <= 0 || bpf == 0 || s.atEnd.Load() {
		return nil
	}
	want := n * bpf
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	buf := s.buf[:want]

	// any read error ends the stream; the poller then stops the device
	got, err := io.ReadFull(s.r, buf)
	if err != nil {
		s.atEnd.Store(true)
	}
	return buf[:got-got%bpf]
}

// Fill renders the next frames as stereo float32 into dst, which holds
// interleaved frames of stride channels. The pair starts at channel offset;
// all other channels, and frames past the end of the source, are silence.
// It returns the number of frames taken from the source.
func (s *Source) Fill(dst []float32, stride, offset int) int {
	clear(dst)
	if stride < offset+2 {
		return 0
	}
	frames := len(dst) / stride
	raw := s.ReadFrames(frames)
	ch := s.format.Channels
	bpf := s.format.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	n := len(raw) / bpf
	for i := 0; i < n; i++ {
		base := i * bpf
		l := math.Float32frombits(binary.LittleEndian.Uint32(raw[base:]))
		r := l
		if ch > 1 {
			r = math.Float32frombits(binary.LittleEndian.Uint32(raw[base+4:]))
		}
		dst[i*stride+offset] = l
		dst[i*stride+offset+1] = r
	}
	return n
}

// StereoF32 returns a reader of interleaved f32le stereo bytes for backends
// that pull PCM through io.Reader. It returns io.EOF once the source is
// drained.
func (s *Source) StereoF32() io.Reader {
	return &stereoF32{src: s}
}

type stereoF32 struct {
	src *Source
	buf []float32
}

func (r *stereoF32) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	if cap(r.buf) < frames*2 {
		r.buf = make([]float32, frames*2)
	}
	buf := r.buf[:frames*2]
	n := r.src.Fill(buf, 2, 0)
	if n == 0 {
		return 0, io.EOF
	}
	for i, v := range buf[:n*2] {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return n * 8, nil
}
