package audio

import (
	"encoding/binary"
	"math"
)

// StereoInt16 converts interleaved f32le PCM with the given channel count to
// interleaved int16 stereo. Mono is duplicated to both sides, extra channels
// beyond the first pair are dropped.
func StereoInt16(pcm []byte, channels int) []int16 {
	if channels < 1 {
		return nil
	}
	frames := len(pcm) / (channels * bytesPerSample)
	out := make([]int16, frames*2)
	for i := 0; i < frames; i++ {
		base := i * channels * bytesPerSample
		l := toInt16(math.Float32frombits(binary.LittleEndian.Uint32(pcm[base:])))
		r := l
		if channels > 1 {
			r = toInt16(math.Float32frombits(binary.LittleEndian.Uint32(pcm[base+bytesPerSample:])))
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out
}

func toInt16(v float32) int16 {
	s := float64(v) * 32767
	if s > 32767 {
		s = 32767
	} else if s < -32768 {
		s = -32768
	}
	return int16(s)
}

// ResampleFrame linearly resamples one interleaved frame block to outFrames
// frames per channel. Used to feed 44.1kHz monitor frames to 48kHz encoders.
func ResampleFrame(in []int16, channels, outFrames int) []int16 {
	if channels < 1 || outFrames < 1 {
		return nil
	}
	inFrames := len(in) / channels
	out := make([]int16, outFrames*channels)
	if inFrames == 0 {
		return out
	}
	if inFrames == 1 {
		for i := 0; i < outFrames; i++ {
			copy(out[i*channels:(i+1)*channels], in[:channels])
		}
		return out
	}

	step := float64(inFrames-1) / float64(max(outFrames-1, 1))
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		j := int(pos)
		if j >= inFrames-1 {
			j = inFrames - 2
		}
		frac := pos - float64(j)
		for c := 0; c < channels; c++ {
			a := float64(in[j*channels+c])
			b := float64(in[(j+1)*channels+c])
			out[i*channels+c] = int16(math.Round(a + (b-a)*frac))
		}
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
