// Package padev plays clips on PortAudio output devices, targeting a
// channel pair chosen by offset.
package padev

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/device"
)

// IDPrefix starts every PortAudio driver ID; the device name follows.
const IDPrefix = "portaudio:"

// Drivers enumerates PortAudio output devices.
func Drivers(logger *zap.Logger) ([]device.Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var out []device.Driver
	for _, info := range devs {
		if info.MaxOutputChannels < 2 {
			continue
		}
		host := ""
		if info.HostApi != nil {
			host = info.HostApi.Name
		}
		out = append(out, &Driver{
			name:     info.Name,
			host:     host,
			channels: info.MaxOutputChannels,
			log:      logger.Named("portaudio"),
		})
	}
	return out, nil
}

// Driver opens one PortAudio output device by name.
type Driver struct {
	name     string
	host     string
	channels int
	log      *zap.Logger
}

func (d *Driver) ID() string { return IDPrefix + d.name }

func (d *Driver) Name() string {
	if d.host == "" {
		return d.name
	}
	return fmt.Sprintf("%s (%s, %d ch)", d.name, d.host, d.channels)
}

func (d *Driver) Open(channelOffset int, onStopped device.StoppedFunc) (device.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &device.Error{Driver: d.ID(), Kind: device.ErrUnavailable, Err: err}
	}
	dev, err := d.open(channelOffset, onStopped)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return dev, nil
}

func (d *Driver) open(channelOffset int, onStopped device.StoppedFunc) (*paDevice, error) {
	info, err := lookup(d.name)
	if err != nil {
		return nil, &device.Error{Driver: d.ID(), Kind: device.ErrUnavailable, Err: err}
	}
	channels := channelOffset + 2
	if channels > info.MaxOutputChannels {
		return nil, &device.Error{Driver: d.ID(), Kind: device.ErrInitFailed,
			Err: fmt.Errorf("channel offset %d needs %d outputs, device has %d",
				channelOffset, channels, info.MaxOutputChannels)}
	}

	params := portaudio.LowLatencyParameters(nil, info)
	params.Output.Channels = channels
	params.SampleRate = audio.TargetSampleRate

	pd := &paDevice{
		id:       d.ID(),
		log:      d.log,
		offset:   channelOffset,
		channels: channels,
		signal:   device.NewStopSignal(onStopped),
	}
	st, err := portaudio.OpenStream(params, pd.process)
	if err != nil {
		return nil, &device.Error{Driver: d.ID(), Kind: device.ErrInitFailed, Err: err}
	}
	pd.stream = st
	pd.terminate = portaudio.Terminate
	d.log.Debug("stream open",
		zap.String("device", d.name),
		zap.Int("channels", channels),
		zap.Duration("latency", params.Output.Latency),
	)
	return pd, nil
}

func lookup(name string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range devs {
		if info.Name == name && info.MaxOutputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no output device named %q", name)
}

// stream is the part of *portaudio.Stream a device drives.
type stream interface {
	Start() error
	Stop() error
	Close() error
}

type paDevice struct {
	id        string
	log       *zap.Logger
	offset    int
	channels  int
	signal    *device.StopSignal
	stream    stream
	terminate func() error

	src      atomic.Pointer[device.Source]
	stopping sync.WaitGroup

	mu      sync.Mutex
	playing bool
	closed  bool
}

// process runs on the PortAudio callback thread.
func (d *paDevice) process(out []float32) {
	src := d.src.Load()
	if src == nil {
		clear(out)
		return
	}
	src.Fill(out, d.channels, d.offset)
}

func (d *paDevice) Init(format audio.Format, r io.Reader) error {
	if format.SampleRate != audio.TargetSampleRate {
		return &device.Error{Driver: d.id, Kind: device.ErrInitFailed,
			Err: fmt.Errorf("sample rate %d, want %d", format.SampleRate, audio.TargetSampleRate)}
	}
	// a draining stream still pulls from src
	d.stopping.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &device.Error{Driver: d.id, Kind: device.ErrUnavailable}
	}
	if d.playing {
		return &device.Error{Driver: d.id, Kind: device.ErrInitFailed, Err: errors.New("stream busy")}
	}
	d.src.Store(device.NewSource(r, format))
	return nil
}

func (d *paDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &device.Error{Driver: d.id, Kind: device.ErrUnavailable}
	}
	if d.src.Load() == nil {
		return &device.Error{Driver: d.id, Kind: device.ErrInitFailed, Err: errors.New("no source bound")}
	}
	if d.playing {
		return nil
	}
	if err := d.stream.Start(); err != nil {
		return &device.Error{Driver: d.id, Kind: device.ErrInitFailed, Err: err}
	}
	d.playing = true
	d.signal.Arm()
	return nil
}

// Stop returns at once; the stream drains and reports on its own goroutine.
func (d *paDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing {
		return nil
	}
	d.playing = false
	src := d.src.Load()
	d.stopping.Add(1)
	go func() {
		defer d.stopping.Done()
		err := d.stream.Stop()
		d.src.CompareAndSwap(src, nil)
		if err != nil {
			d.log.Warn("stream stop", zap.String("driver", d.id), zap.Error(err))
		}
		d.signal.Fire(err)
	}()
	return nil
}

func (d *paDevice) AtEnd() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := d.src.Load()
	return d.playing && src != nil && src.AtEnd()
}

func (d *paDevice) ChannelOffset() int { return d.offset }

func (d *paDevice) Close() error {
	d.Stop()
	d.stopping.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.stream.Close()
	if d.terminate != nil {
		err = multierr.Append(err, d.terminate())
	}
	return err
}

// HasPrefix reports whether id names a PortAudio driver.
func HasPrefix(id string) bool {
	return strings.HasPrefix(id, IDPrefix)
}
