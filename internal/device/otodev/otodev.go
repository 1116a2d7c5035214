// Package otodev plays clips on the system default output through oto.
package otodev

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/device"
)

// ID is the driver ID of the default output.
const ID = "oto"

// oto allows one context per process.
var (
	ctxOnce sync.Once
	ctx     *oto.Context
	ctxErr  error
)

func sharedContext() (*oto.Context, error) {
	ctxOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.TargetSampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   40 * time.Millisecond,
		})
		if err != nil {
			ctxErr = err
			return
		}
		<-ready
		ctx = c
	})
	return ctx, ctxErr
}

// Driver opens the default output.
type Driver struct {
	log *zap.Logger
}

// New returns the oto driver.
func New(logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{log: logger.Named("oto")}
}

func (d *Driver) ID() string   { return ID }
func (d *Driver) Name() string { return "System default output" }

func (d *Driver) Open(channelOffset int, onStopped device.StoppedFunc) (device.Device, error) {
	c, err := sharedContext()
	if err != nil {
		return nil, &device.Error{Driver: ID, Kind: device.ErrUnavailable, Err: err}
	}
	if channelOffset != 0 {
		d.log.Info("channel offset ignored, default output is stereo", zap.Int("channel_offset", channelOffset))
	}
	return &otoDevice{
		ctx:    c,
		log:    d.log,
		offset: channelOffset,
		signal: device.NewStopSignal(onStopped),
	}, nil
}

type otoDevice struct {
	ctx    *oto.Context
	log    *zap.Logger
	offset int
	signal *device.StopSignal

	mu      sync.Mutex
	player  *oto.Player
	src     *device.Source
	playing bool
	closed  bool
}

func (d *otoDevice) Init(format audio.Format, src io.Reader) error {
	if format.SampleRate != audio.TargetSampleRate {
		return &device.Error{Driver: ID, Kind: device.ErrInitFailed,
			Err: fmt.Errorf("sample rate %d, want %d", format.SampleRate, audio.TargetSampleRate)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &device.Error{Driver: ID, Kind: device.ErrUnavailable}
	}
	if d.player != nil {
		d.player.Close()
	}
	d.src = device.NewSource(src, format)
	d.player = d.ctx.NewPlayer(d.src.StereoF32())
	return nil
}

func (d *otoDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return &device.Error{Driver: ID, Kind: device.ErrInitFailed, Err: fmt.Errorf("no source bound")}
	}
	if d.playing {
		return nil
	}
	d.player.Play()
	d.playing = true
	d.signal.Arm()
	return nil
}

func (d *otoDevice) Stop() error {
	d.mu.Lock()
	if !d.playing {
		d.mu.Unlock()
		return nil
	}
	d.playing = false
	p := d.player
	d.mu.Unlock()

	p.Pause()
	var err error
	if perr := p.Err(); perr != nil {
		d.log.Warn("player error", zap.Error(perr))
		err = perr
	}
	d.signal.Fire(err)
	return nil
}

// AtEnd is true once the source is drained and oto has played its buffer.
func (d *otoDevice) AtEnd() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing || d.src == nil {
		return false
	}
	return d.src.AtEnd() && !d.player.IsPlaying()
}

func (d *otoDevice) ChannelOffset() int { return d.offset }

func (d *otoDevice) Close() error {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	return err
}
