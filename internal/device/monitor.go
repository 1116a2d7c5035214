package device

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
)

// MonitorID is the driver ID of the stream monitor.
const MonitorID = "monitor"

var errNoSource = errors.New("no source bound")

// Monitor is a pure-Go output that paces the clip in real time and emits
// 20ms int16 stereo frames for network listeners. Between clips it emits
// silence so encoders downstream keep running.
type Monitor struct {
	log    *zap.Logger
	frames chan []int16

	mu     sync.Mutex
	active *monitorDevice
}

// NewMonitor creates the monitor driver. Call Run to start pacing.
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		log:    logger.Named("monitor"),
		frames: make(chan []int16, 100),
	}
}

func (m *Monitor) ID() string   { return MonitorID }
func (m *Monitor) Name() string { return "Stream monitor" }

// Frames returns the channel of outgoing PCM frames (20ms each).
func (m *Monitor) Frames() <-chan []int16 {
	return m.frames
}

// Open binds a new device to the monitor, replacing any previous one.
func (m *Monitor) Open(channelOffset int, onStopped StoppedFunc) (Device, error) {
	if channelOffset != 0 {
		m.log.Info("channel offset ignored, monitor is stereo", zap.Int("channel_offset", channelOffset))
	}
	d := &monitorDevice{
		owner:  m,
		offset: channelOffset,
		signal: NewStopSignal(onStopped),
	}
	m.mu.Lock()
	prev := m.active
	m.active = d
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return d, nil
}

// Run emits one frame per tick until ctx is cancelled. Frames nobody drains
// are dropped.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.tick()
	}
}

func (m *Monitor) tick() {
	m.mu.Lock()
	d := m.active
	m.mu.Unlock()

	var frame []int16
	if d != nil {
		frame = d.render()
	}
	if frame == nil {
		frame = make([]int16, audio.FrameSamples)
	}

	select {
	case m.frames <- frame:
	default:
	}
}

func (m *Monitor) detach(d *monitorDevice) {
	m.mu.Lock()
	if m.active == d {
		m.active = nil
	}
	m.mu.Unlock()
}

type monitorDevice struct {
	owner  *Monitor
	offset int
	signal *StopSignal

	mu      sync.Mutex
	src     *Source
	playing bool
	closed  bool
}

func (d *monitorDevice) Init(format audio.Format, src io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &Error{Driver: MonitorID, Kind: ErrUnavailable, Err: errors.New("closed")}
	}
	d.src = NewSource(src, format)
	return nil
}

func (d *monitorDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &Error{Driver: MonitorID, Kind: ErrUnavailable, Err: errors.New("closed")}
	}
	if d.src == nil {
		return &Error{Driver: MonitorID, Kind: ErrInitFailed, Err: errNoSource}
	}
	if d.playing {
		return nil
	}
	d.playing = true
	d.signal.Arm()
	return nil
}

func (d *monitorDevice) Stop() error {
	d.mu.Lock()
	was := d.playing
	d.playing = false
	d.src = nil
	d.mu.Unlock()

	if was {
		d.signal.Fire(nil)
	}
	return nil
}

func (d *monitorDevice) AtEnd() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing && d.src != nil && d.src.AtEnd()
}

func (d *monitorDevice) ChannelOffset() int { return d.offset }

func (d *monitorDevice) Close() error {
	d.Stop()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.owner.detach(d)
	return nil
}

// render produces the next frame, or nil when not playing.
func (d *monitorDevice) render() []int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing || d.src == nil {
		return nil
	}

	raw := d.src.ReadFrames(audio.FrameSize)
	frame := make([]int16, audio.FrameSamples)
	copy(frame, audio.StereoInt16(raw, d.src.Format().Channels))
	return frame
}
