package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"go.uber.org/zap"
)

// HTTPHandler serves the monitor mix as a chunked MP3 stream.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	ffmpeg      string
	logger      *zap.Logger
}

// NewHTTPHandler creates an HTTP stream handler. An empty ffmpeg path
// resolves "ffmpeg" from PATH.
func NewHTTPHandler(b *Broadcaster, ffmpeg string, logger *zap.Logger) *HTTPHandler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{broadcaster: b, ffmpeg: ffmpeg, logger: logger.Named("http-stream")}
}

// encoderArgs builds the ffmpeg command line for s16le stereo in, MP3 out.
func encoderArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.TargetSampleRate),
		"-ac", strconv.Itoa(audio.MonitorChannels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpeg, encoderArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.logger.Error("stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.logger.Error("stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	if err := cmd.Start(); err != nil {
		h.logger.Error("ffmpeg start", zap.String("ffmpeg", h.ffmpeg), zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "clipdeck monitor")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.logger.Info("listener connected", zap.Int("listeners", h.broadcaster.ListenerCount()))
	defer h.logger.Info("listener disconnected")

	go feed(ctx, listener, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("ffmpeg read", zap.Error(err))
			}
			break
		}
	}

	cancel()
	_ = cmd.Wait()
}

// feed writes listener frames as s16le to w until the listener or ctx ends.
func feed(ctx context.Context, l *Listener, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
