// Package engine is the soundboard core. It owns the slot table and the one
// playback session, and serializes every mutation on a single control loop
// fed by callers, the output device, the end-of-clip poller and MIDI.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/config"
	"github.com/satindergrewal/clipdeck/internal/device"
)

// Decoder turns a file into a clip.
type Decoder interface {
	Decode(path string) (*audio.Clip, error)
}

// Output is the device lifecycle the engine drives.
type Output interface {
	Configure(driverID string, channelOffset int)
	Config() device.Config
	EnsureReady() (device.Device, error)
	SetStoppedFunc(fn device.StoppedFunc)
	Dispose() error
}

// Indicator mirrors playback on controller LEDs.
type Indicator interface {
	SetIndicator(slot int, on bool)
	ClearIndicators()
}

// State is the playback state.
type State int

const (
	Idle State = iota
	Playing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Options configures New.
type Options struct {
	Decoder      Decoder
	Output       Output
	Settings     config.Store
	Indicator    Indicator // optional
	Logger       *zap.Logger
	PollInterval time.Duration // default audio.PollInterval
}

const queueSize = 64

// Engine is the playback engine. Every exported method is safe for
// concurrent use; state is only touched by the goroutine running Run.
type Engine struct {
	log       *zap.Logger
	decoder   Decoder
	out       Output
	settings  config.Store
	indicator Indicator
	interval  time.Duration

	queue chan func()
	done  chan struct{}
	hub   *hub

	// callbacks from Post, run in arrival order
	postMu sync.Mutex
	posted []func()
	wake   chan struct{}

	// owned by the control loop
	slots       [audio.NumSlots]*audio.Clip
	filename    string
	dirty       bool
	state       State
	sess        *session
	dev         device.Device
	pending     int
	ignoreStops int
	ticker      *time.Ticker
	recent      *RecentList
}

// New creates an engine and applies the stored output selection. Call Run
// to start processing.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := opts.Settings
	if settings == nil {
		settings = config.NewMemoryStore()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = audio.PollInterval
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = audio.NewDecoder("", logger)
	}

	e := &Engine{
		log:       logger.Named("engine"),
		decoder:   decoder,
		out:       opts.Output,
		settings:  settings,
		indicator: opts.Indicator,
		interval:  interval,
		queue:     make(chan func(), queueSize),
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		pending:   -1,
		recent:    LoadRecentList(settings),
	}
	e.hub = newHub(e.log)

	driverID, _ := settings.Get(config.KeyOutputDriver)
	offset := 0
	if v, ok := settings.Get(config.KeyChannelOffset); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if e.out != nil {
		e.out.SetStoppedFunc(e.deviceStopped)
		e.out.Configure(driverID, offset)
	}
	return e
}

// Run processes requests until ctx is cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.stopTicker()

	for {
		var tick <-chan time.Time
		if e.ticker != nil {
			tick = e.ticker.C
		}
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case fn := <-e.queue:
			e.runPosted()
			if fn == nil {
				e.shutdown()
				return nil
			}
			fn()
		case <-e.wake:
			e.runPosted()
		case <-tick:
			e.runPosted()
			e.poll()
		}
	}
}

// Post queues fn on the control loop without waiting. It is the entry point
// for driver callbacks. Posted functions run in the order they were posted,
// ahead of any request queued after them. It reports false once the engine
// has stopped.
func (e *Engine) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
	}
	e.postMu.Lock()
	e.posted = append(e.posted, fn)
	e.postMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

func (e *Engine) runPosted() {
	e.postMu.Lock()
	batch := e.posted
	e.posted = nil
	e.postMu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

// do runs fn on the control loop and waits for it.
func (e *Engine) do(fn func() error) error {
	var err error
	ran := make(chan struct{})
	task := func() {
		err = fn()
		close(ran)
	}
	select {
	case e.queue <- task:
	case <-e.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return err
	case <-e.done:
		select {
		case <-ran:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops playback, switches off indicators, releases the device and
// ends Run.
func (e *Engine) Close() error {
	select {
	case <-e.done:
		return nil
	default:
	}
	select {
	case e.queue <- nil:
	case <-e.done:
		return nil
	}
	<-e.done
	return nil
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Subscribe registers for notifications.
func (e *Engine) Subscribe() *Subscription { return e.hub.subscribe() }

// Unsubscribe stops delivery and closes the subscription channel.
func (e *Engine) Unsubscribe(s *Subscription) { e.hub.unsubscribe(s) }

// --- public operations ---

// Play starts slot i, or switches to it if another slot is playing.
func (e *Engine) Play(i int) error {
	return e.do(func() error { return e.play(i) })
}

// Toggle stops slot i if it is playing and plays it otherwise.
func (e *Engine) Toggle(i int) error {
	return e.do(func() error { return e.toggle(i) })
}

// Stop requests the playing clip to stop. Completion is reported as a
// PlaybackStopped event.
func (e *Engine) Stop() error {
	return e.do(e.stop)
}

// SetClip decodes path and puts it in slot i. On failure the slot keeps
// its previous clip.
func (e *Engine) SetClip(i int, path string) error {
	if !validSlot(i) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, i)
	}
	clip, err := e.decoder.Decode(path)
	if err != nil {
		e.log.Warn("set clip failed", zap.Int("slot", i), zap.String("path", path), zap.Error(err))
		return err
	}
	return e.do(func() error {
		e.slots[i] = clip
		e.setDirty(true)
		e.emit(SlotsChanged, -1)
		e.log.Info("clip set", zap.Int("slot", i), zap.String("path", clip.Path), zap.Duration("duration", clip.Duration))
		return nil
	})
}

// ConfigureOutput selects the output driver and channel offset. The device
// is reopened on the next play.
func (e *Engine) ConfigureOutput(driverID string, channelOffset int) error {
	if channelOffset < 0 {
		return fmt.Errorf("channel offset %d: must not be negative", channelOffset)
	}
	return e.do(func() error {
		e.out.Configure(driverID, channelOffset)
		e.settings.Set(config.KeyOutputDriver, driverID)
		e.settings.Set(config.KeyChannelOffset, strconv.Itoa(channelOffset))
		if err := e.settings.Flush(); err != nil {
			e.log.Warn("saving settings", zap.Error(err))
		}
		e.log.Info("output configured", zap.String("driver", driverID), zap.Int("channel_offset", channelOffset))
		return nil
	})
}

// Trigger toggles slot i without waiting. It is meant for hardware
// callbacks; failures are logged.
func (e *Engine) Trigger(i int) {
	e.Post(func() {
		if err := e.toggle(i); err != nil {
			e.log.Debug("trigger ignored", zap.Int("slot", i), zap.Error(err))
		}
	})
}

// Reconcile sets every controller LED to match the playing slot.
func (e *Engine) Reconcile() {
	e.Post(e.reconcile)
}

// --- control loop internals ---

func validSlot(i int) bool { return i >= 0 && i < audio.NumSlots }

func (e *Engine) emit(kind EventKind, slot int) {
	e.hub.publish(newEvent(kind, slot))
}

func (e *Engine) setDirty(dirty bool) {
	if e.dirty == dirty {
		return
	}
	e.dirty = dirty
	e.emit(ClipListChanged, -1)
}

func (e *Engine) setIndicator(slot int, on bool) {
	if e.indicator != nil {
		e.indicator.SetIndicator(slot, on)
	}
}

func (e *Engine) play(i int) error {
	if !validSlot(i) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, i)
	}
	clip := e.slots[i]
	if clip == nil {
		return fmt.Errorf("%w: slot %d", ErrNoClip, i)
	}

	switch e.state {
	case Playing:
		if e.sess.slot == i {
			return nil
		}
		e.pending = i
		e.requestStop()
		return nil
	case Stopping:
		e.pending = i
		return nil
	}

	if e.out == nil {
		return ErrDeviceUnavailable
	}
	dev, err := e.out.EnsureReady()
	if err != nil {
		e.log.Warn("no output device", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	sess := newSession(i, clip)
	if err := dev.Init(clip.Format, sess); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if err := dev.Play(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	e.sess = sess
	e.dev = dev
	e.state = Playing
	e.startTicker()
	e.setIndicator(i, true)
	e.log.Debug("playing", zap.Int("slot", i), zap.String("path", clip.Path))
	e.emit(PlaybackStarted, i)
	return nil
}

func (e *Engine) toggle(i int) error {
	if e.sess != nil && e.sess.slot == i {
		switch e.state {
		case Playing:
			return e.stop()
		case Stopping:
			e.pending = -1
			return nil
		}
	}
	return e.play(i)
}

func (e *Engine) stop() error {
	switch e.state {
	case Idle:
		return ErrNotPlaying
	case Stopping:
		e.pending = -1
		return nil
	}
	e.pending = -1
	e.requestStop()
	return nil
}

// requestStop moves Playing to Stopping and asks the device to stop. The
// session ends in deviceStopped.
func (e *Engine) requestStop() {
	e.state = Stopping
	e.stopTicker()
	if err := e.dev.Stop(); err != nil {
		e.log.Warn("device stop failed", zap.Error(err))
		e.completeStop(err)
	}
}

// deviceStopped is the StoppedFunc handed to every device. It runs on a
// driver goroutine.
func (e *Engine) deviceStopped(err error) {
	e.Post(func() { e.stopped(err) })
}

func (e *Engine) stopped(err error) {
	if e.ignoreStops > 0 {
		e.ignoreStops--
		return
	}
	if e.sess == nil {
		e.log.Debug("stop callback without session")
		return
	}
	e.completeStop(err)
}

// completeStop ends the session and starts the slot requested meanwhile.
func (e *Engine) completeStop(err error) {
	e.finishSession(err)
	if p := e.pending; p >= 0 {
		e.pending = -1
		if err := e.play(p); err != nil {
			e.log.Warn("deferred play failed", zap.Int("slot", p), zap.Error(err))
		}
	}
}

func (e *Engine) finishSession(err error) {
	slot := e.sess.slot
	if err != nil {
		e.log.Warn("playback ended with error", zap.Int("slot", slot), zap.Error(err))
	}
	e.sess = nil
	e.state = Idle
	e.stopTicker()
	e.setIndicator(slot, false)
	e.log.Debug("stopped", zap.Int("slot", slot))
	e.emit(PlaybackStopped, slot)
}

// halt ends any session at once, for operations that replace the slot
// table. The device's own stop callback is then discarded.
func (e *Engine) halt() {
	if e.sess == nil {
		return
	}
	e.pending = -1
	if e.state == Playing {
		if err := e.dev.Stop(); err != nil {
			e.log.Warn("device stop failed", zap.Error(err))
		} else {
			e.ignoreStops++
		}
	} else {
		// Stopping: the callback is already on its way
		e.ignoreStops++
	}
	e.finishSession(nil)
}

func (e *Engine) poll() {
	if e.state != Playing || e.dev == nil {
		return
	}
	if e.dev.AtEnd() {
		e.log.Debug("clip reached end", zap.Int("slot", e.sess.slot))
		e.requestStop()
	}
}

func (e *Engine) startTicker() {
	if e.ticker == nil {
		e.ticker = time.NewTicker(e.interval)
	}
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) reconcile() {
	if e.indicator == nil {
		return
	}
	playing := -1
	if e.sess != nil && e.state == Playing {
		playing = e.sess.slot
	}
	for i := 0; i < audio.NumSlots; i++ {
		e.indicator.SetIndicator(i, i == playing)
	}
}

func (e *Engine) shutdown() {
	e.halt()
	if e.indicator != nil {
		e.indicator.ClearIndicators()
	}
	e.recent.Save(e.settings)
	if err := e.settings.Flush(); err != nil {
		e.log.Warn("saving settings", zap.Error(err))
	}
	if e.out != nil {
		if err := e.out.Dispose(); err != nil {
			e.log.Warn("releasing output", zap.Error(err))
		}
	}
	e.hub.closeAll()
	e.log.Info("engine stopped")
}
