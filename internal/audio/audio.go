package audio

import "time"

const (
	NumSlots         = 8
	TargetSampleRate = 44100
	MaxClipDuration  = 7 * time.Minute
	PollInterval     = 20 * time.Millisecond
	FrameDuration    = 20 * time.Millisecond
	FrameSize        = 882 // samples per channel per 20ms frame at 44.1kHz
	MonitorChannels  = 2   // monitor frames are always interleaved stereo
	FrameSamples     = FrameSize * MonitorChannels
	FrameBytes       = FrameSamples * 2 // bytes per monitor frame (int16 = 2 bytes)
	bytesPerSample   = 4                // float32
)

// Encoding is the in-memory sample encoding of a decoded clip.
type Encoding int

const (
	EncodingFloat32LE Encoding = iota
)

func (e Encoding) String() string {
	switch e {
	case EncodingFloat32LE:
		return "f32le"
	default:
		return "unknown"
	}
}

// Format describes interleaved PCM.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// BytesPerFrame returns the size of one interleaved frame (all channels).
func (f Format) BytesPerFrame() int {
	return f.Channels * bytesPerSample
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Duration converts a byte length into playback time.
func (f Format) Duration(n int64) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Clip is a fully decoded audio file. It is never modified after Decode
// returns, so slot tables and playback sessions share it by pointer.
type Clip struct {
	Samples  []byte
	Format   Format
	Path     string
	Duration time.Duration
}

// Frames returns the number of interleaved frames in the clip.
func (c *Clip) Frames() int {
	bpf := c.Format.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return len(c.Samples) / bpf
}

// PositionAt converts a byte offset into the clip to a playback position.
func (c *Clip) PositionAt(offset int64) time.Duration {
	return c.Format.Duration(offset)
}
