package audio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"go.uber.org/zap"
)

// resampleQuality is passed to beep.Resample. 4 is beep's recommended
// balance between CPU and quality for offline conversion.
const resampleQuality = 4

type beepOpener func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var beepFormats = map[string]beepOpener{
	".wav":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(f) },
	".mp3":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(f) },
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(f) },
	".ogg":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
}

// externalFormats are decoded by an ffmpeg subprocess.
var externalFormats = map[string]bool{
	".aiff": true,
	".aif":  true,
	".aac":  true,
	".m4a":  true,
}

// IsSupported reports whether path has an extension the decoder accepts.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := beepFormats[ext]
	return ok || externalFormats[ext]
}

// Decoder turns audio files into in-memory clips at TargetSampleRate.
type Decoder struct {
	FFmpeg  string // ffmpeg binary, used for aiff/aac
	FFprobe string // ffprobe binary
	Logger  *zap.Logger
}

// NewDecoder creates a decoder. ffmpeg may be a bare name resolved via PATH;
// ffprobe is looked up next to it.
func NewDecoder(ffmpeg string, logger *zap.Logger) *Decoder {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := "ffprobe"
	if dir := filepath.Dir(ffmpeg); dir != "." {
		probe = filepath.Join(dir, "ffprobe")
	}
	return &Decoder{FFmpeg: ffmpeg, FFprobe: probe, Logger: logger.Named("decoder")}
}

// Decode reads the whole file at path into memory using a default Decoder.
func Decode(path string) (*Clip, error) {
	return NewDecoder("", nil).Decode(path)
}

// Decode reads the whole file at path into memory.
func (d *Decoder) Decode(path string) (*Clip, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, decodeErr(path, ErrFileNotFound, nil)
		}
		return nil, decodeErr(path, ErrIO, err)
	}

	start := time.Now()
	var (
		clip *Clip
		err  error
	)
	if open, ok := beepFormats[ext]; ok {
		clip, err = decodeBeep(path, open)
	} else if externalFormats[ext] {
		clip, err = d.decodeExternal(path)
	} else {
		return nil, decodeErr(path, ErrUnsupportedFormat, fmt.Errorf("extension %q", ext))
	}
	if err != nil {
		d.Logger.Warn("decode failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	d.Logger.Debug("decoded clip",
		zap.String("path", path),
		zap.Duration("duration", clip.Duration),
		zap.Int("channels", clip.Format.Channels),
		zap.Int("bytes", len(clip.Samples)),
		zap.Duration("took", time.Since(start)),
	)
	return clip, nil
}

func decodeBeep(path string, open beepOpener) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, decodeErr(path, ErrIO, err)
	}
	defer f.Close()

	s, format, err := open(f)
	if err != nil {
		return nil, decodeErr(path, ErrUnsupportedFormat, err)
	}
	defer s.Close()

	if dur := format.SampleRate.D(s.Len()); dur > MaxClipDuration {
		return nil, decodeErr(path, ErrTooLong, fmt.Errorf("%s exceeds %s", dur.Round(time.Second), MaxClipDuration))
	}

	channels := format.NumChannels
	if channels < 1 {
		channels = 1
	}
	if channels > 2 {
		channels = 2
	}

	var src beep.Streamer = s
	expected := s.Len()
	if int(format.SampleRate) != TargetSampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(TargetSampleRate), s)
		expected = int(float64(expected) * TargetSampleRate / float64(format.SampleRate))
	}

	samples := bufferStream(src, channels, expected)
	if err := s.Err(); err != nil {
		return nil, decodeErr(path, ErrIO, err)
	}

	out := Format{SampleRate: TargetSampleRate, Channels: channels, Encoding: EncodingFloat32LE}
	return &Clip{
		Samples:  samples,
		Format:   out,
		Path:     path,
		Duration: out.Duration(int64(len(samples))),
	}, nil
}

// bufferStream drains s into one contiguous float32 buffer.
func bufferStream(s beep.Streamer, channels, expectedFrames int) []byte {
	if expectedFrames < 0 {
		expectedFrames = 0
	}
	out := make([]byte, 0, expectedFrames*channels*bytesPerSample)
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			for c := 0; c < channels; c++ {
				out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(buf[i][c])))
			}
		}
		if !ok {
			return out
		}
	}
}

type probeResult struct {
	Streams []struct {
		Channels int `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// decodeExternal runs ffprobe for the channel count and duration, then FFmpeg
// to decode the file to raw f32le at the target rate.
func (d *Decoder) decodeExternal(path string) (*Clip, error) {
	probe, err := exec.Command(d.FFprobe,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=channels:format=duration",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return nil, decodeErr(path, ErrUnsupportedFormat, fmt.Errorf("ffprobe: %w", err))
	}

	var info probeResult
	if err := json.Unmarshal(probe, &info); err != nil || len(info.Streams) == 0 {
		return nil, decodeErr(path, ErrUnsupportedFormat, fmt.Errorf("ffprobe: no audio stream"))
	}
	channels := info.Streams[0].Channels
	if channels < 1 {
		return nil, decodeErr(path, ErrUnsupportedFormat, fmt.Errorf("ffprobe: %d channels", channels))
	}
	if secs, err := strconv.ParseFloat(info.Format.Duration, 64); err == nil {
		if dur := time.Duration(secs * float64(time.Second)); dur > MaxClipDuration {
			return nil, decodeErr(path, ErrTooLong, fmt.Errorf("%s exceeds %s", dur.Round(time.Second), MaxClipDuration))
		}
	}

	var stderr bytes.Buffer
	cmd := exec.Command(d.FFmpeg,
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, decodeErr(path, ErrIO, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	format := Format{SampleRate: TargetSampleRate, Channels: channels, Encoding: EncodingFloat32LE}
	// Drop a trailing partial frame.
	out = out[:len(out)-len(out)%format.BytesPerFrame()]

	return &Clip{
		Samples:  out,
		Format:   format,
		Path:     path,
		Duration: format.Duration(int64(len(out))),
	}, nil
}
