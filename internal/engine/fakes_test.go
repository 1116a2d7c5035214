package engine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/config"
	"github.com/satindergrewal/clipdeck/internal/device"
)

// --- decoder ---

type fakeDecoder struct {
	mu   sync.Mutex
	fail map[string]error // keyed by base name
	dur  time.Duration
}

func (f *fakeDecoder) Decode(path string) (*audio.Clip, error) {
	f.mu.Lock()
	err := f.fail[filepath.Base(path)]
	dur := f.dur
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if dur == 0 {
		dur = 100 * time.Millisecond
	}
	return testClip(path, dur), nil
}

func (f *fakeDecoder) failOn(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	f.fail[name] = err
}

func testClip(path string, d time.Duration) *audio.Clip {
	format := audio.Format{SampleRate: audio.TargetSampleRate, Channels: 2, Encoding: audio.EncodingFloat32LE}
	frames := int(d * audio.TargetSampleRate / time.Second)
	return &audio.Clip{
		Samples:  make([]byte, frames*format.BytesPerFrame()),
		Format:   format,
		Path:     path,
		Duration: d,
	}
}

// --- output ---

type fakeDriver struct {
	mu      sync.Mutex
	openErr error
	hold    bool
	devs    []*fakeDevice
}

func (f *fakeDriver) ID() string   { return "fake" }
func (f *fakeDriver) Name() string { return "Fake output" }

func (f *fakeDriver) Open(offset int, onStopped device.StoppedFunc) (device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	d := &fakeDevice{offset: offset, signal: device.NewStopSignal(onStopped), hold: f.hold}
	f.devs = append(f.devs, d)
	return d, nil
}

func (f *fakeDriver) current() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devs) == 0 {
		return nil
	}
	return f.devs[len(f.devs)-1]
}

func (f *fakeDriver) setOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

type fakeDevice struct {
	offset int
	signal *device.StopSignal

	mu      sync.Mutex
	hold    bool // Stop does not report until release
	src     io.Reader
	playing bool
	atEnd   bool
	plays   int
	stops   int
	closed  bool
}

func (d *fakeDevice) Init(_ audio.Format, src io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.src = src
	return nil
}

func (d *fakeDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src == nil {
		return errors.New("no source")
	}
	d.playing = true
	d.atEnd = false
	d.plays++
	d.signal.Arm()
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	if !d.playing {
		d.mu.Unlock()
		return nil
	}
	d.playing = false
	d.stops++
	hold := d.hold
	d.mu.Unlock()
	if !hold {
		d.signal.Fire(nil)
	}
	return nil
}

func (d *fakeDevice) release() { d.signal.Fire(nil) }

func (d *fakeDevice) finish() {
	d.mu.Lock()
	d.atEnd = true
	d.mu.Unlock()
}

func (d *fakeDevice) AtEnd() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing && d.atEnd
}

func (d *fakeDevice) ChannelOffset() int { return d.offset }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) counts() (plays, stops int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plays, d.stops
}

// --- indicator ---

type indicatorCall struct {
	slot int
	on   bool
}

type fakeIndicator struct {
	mu      sync.Mutex
	calls   []indicatorCall
	cleared int
}

func (f *fakeIndicator) SetIndicator(slot int, on bool) {
	f.mu.Lock()
	f.calls = append(f.calls, indicatorCall{slot, on})
	f.mu.Unlock()
}

func (f *fakeIndicator) ClearIndicators() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeIndicator) snapshot() ([]indicatorCall, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]indicatorCall(nil), f.calls...), f.cleared
}

// --- rig ---

type rig struct {
	e     *Engine
	dec   *fakeDecoder
	drv   *fakeDriver
	mgr   *device.Manager
	ind   *fakeIndicator
	store *config.MemoryStore
	sub   *Subscription
}

func newRig(t *testing.T) *rig {
	t.Helper()
	return newRigWith(t, &fakeDecoder{}, config.NewMemoryStore())
}

func newRigWith(t *testing.T, dec Decoder, store *config.MemoryStore) *rig {
	t.Helper()
	if store == nil {
		store = config.NewMemoryStore()
	}
	logger := zaptest.NewLogger(t)
	drv := &fakeDriver{}
	mgr := device.NewManager(logger, nil, drv)
	ind := &fakeIndicator{}
	e := New(Options{
		Decoder:      dec,
		Output:       mgr,
		Settings:     store,
		Indicator:    ind,
		Logger:       logger,
		PollInterval: 2 * time.Millisecond,
	})
	r := &rig{e: e, drv: drv, mgr: mgr, ind: ind, store: store, sub: e.Subscribe()}
	if fd, ok := dec.(*fakeDecoder); ok {
		r.dec = fd
	}

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		e.Close()
		cancel()
	})
	return r
}

// load fills the given slots with fake clips.
func (r *rig) load(t *testing.T, slots ...int) {
	t.Helper()
	for _, i := range slots {
		if err := r.e.SetClip(i, filepath.Join("/clips", string(rune('a'+i))+".wav")); err != nil {
			t.Fatalf("SetClip(%d): %v", i, err)
		}
	}
	r.drain()
}

// drain discards events already queued.
func (r *rig) drain() {
	for {
		select {
		case <-r.sub.C:
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

func (r *rig) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev, ok := <-r.sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// expect asserts the next events are exactly want.
func (r *rig) expect(t *testing.T, want ...Event) {
	t.Helper()
	for i, w := range want {
		got := r.next(t)
		if got.Kind != w.Kind || got.Slot != w.Slot {
			t.Fatalf("event %d = %v(%d), want %v(%d)", i, got.Kind, got.Slot, w.Kind, w.Slot)
		}
	}
}

// quiet asserts no event arrives for a short while.
func (r *rig) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.sub.C:
		t.Fatalf("unexpected event %v(%d)", ev.Kind, ev.Slot)
	case <-time.After(50 * time.Millisecond):
	}
}

func started(i int) Event { return newEvent(PlaybackStarted, i) }
func stopped(i int) Event { return newEvent(PlaybackStopped, i) }
func notice(k EventKind) Event { return newEvent(k, -1) }

func (r *rig) status(t *testing.T) Status {
	t.Helper()
	st, err := r.e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return st
}
