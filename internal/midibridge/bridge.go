// Package midibridge connects pad controllers to the playback engine: pad
// presses become slot toggles and pad LEDs mirror the playing slot.
package midibridge

import (
	"errors"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
)

// BaseNote is the note of slot 0; slot i is BaseNote+i.
const BaseNote = 36

// indicator messages go out on the first channel with this velocity
const (
	indicatorChannel  = 0
	indicatorVelocity = 1
)

// DefaultMatch lists the name fragments of supported controllers.
var DefaultMatch = []string{"LPD", "MPC", "Akai"}

// NoteForSlot returns the note of slot i.
func NoteForSlot(i int) (uint8, bool) {
	if i < 0 || i >= audio.NumSlots {
		return 0, false
	}
	return uint8(BaseNote + i), true
}

// SlotForNote returns the slot mapped to note, if any.
func SlotForNote(note uint8) (int, bool) {
	i := int(note) - BaseNote
	if i < 0 || i >= audio.NumSlots {
		return -1, false
	}
	return i, true
}

// Compatible reports whether name contains one of the fragments. Matching is
// case-sensitive.
func Compatible(name string, match []string) bool {
	for _, m := range match {
		if m != "" && strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Bridge owns every open compatible MIDI port.
//
// Callbacks run on driver goroutines; the receiver must hand them to its
// own goroutine before touching state.
type Bridge struct {
	log       *zap.Logger
	newDriver func() (Driver, error)
	match     []string

	mu         sync.Mutex
	drv        Driver
	ins        []InPort
	stops      []func()
	outs       []OutPort
	onToggle   func(slot int)
	onActivity func()
	started    bool
}

// New creates a bridge. newDriver is called on every Start and Reload;
// match defaults to DefaultMatch.
func New(logger *zap.Logger, newDriver func() (Driver, error), match []string) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(match) == 0 {
		match = DefaultMatch
	}
	return &Bridge{
		log:       logger.Named("midi"),
		newDriver: newDriver,
		match:     match,
	}
}

// Start opens every compatible input and output. Finding no devices is not
// an error.
func (b *Bridge) Start(onToggle func(slot int), onActivity func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onToggle = onToggle
	b.onActivity = onActivity
	b.started = true
	return b.open()
}

// Stop closes all ports and the driver.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	return b.close()
}

// Reload tears down every port and enumerates again.
func (b *Bridge) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return errors.New("midi bridge not started")
	}
	closeErr := b.close()
	if closeErr != nil {
		b.log.Warn("closing ports for reload", zap.Error(closeErr))
	}
	return b.open()
}

// Devices lists the open port names, inputs first.
func (b *Bridge) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.ins)+len(b.outs))
	for _, in := range b.ins {
		names = append(names, "in: "+in.Name())
	}
	for _, out := range b.outs {
		names = append(names, "out: "+out.Name())
	}
	return names
}

// SetIndicator lights or clears the pad LED of slot on every output.
func (b *Bridge) SetIndicator(slot int, on bool) {
	note, ok := NoteForSlot(slot)
	if !ok {
		return
	}
	var msg midi.Message
	if on {
		msg = midi.NoteOn(indicatorChannel, note, indicatorVelocity)
	} else {
		msg = midi.NoteOffVelocity(indicatorChannel, note, indicatorVelocity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast(msg)
}

// ClearIndicators switches off every slot LED.
func (b *Bridge) ClearIndicators() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < audio.NumSlots; i++ {
		note, _ := NoteForSlot(i)
		b.broadcast(midi.NoteOffVelocity(indicatorChannel, note, indicatorVelocity))
	}
}

func (b *Bridge) broadcast(msg midi.Message) {
	for _, out := range b.outs {
		if err := out.Send(msg); err != nil {
			b.log.Debug("indicator send failed", zap.String("port", out.Name()), zap.Error(err))
		}
	}
}

// handler binds the current callbacks so driver goroutines never read
// Bridge fields.
func (b *Bridge) handler() func(midi.Message) {
	onToggle, onActivity, log := b.onToggle, b.onActivity, b.log
	return func(msg midi.Message) {
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			slot, ok := SlotForNote(key)
			if !ok {
				log.Debug("unmapped note", zap.Uint8("key", key))
				return
			}
			if onToggle != nil {
				onToggle(slot)
			}
		case msg.GetNoteEnd(&ch, &key):
			if onActivity != nil {
				onActivity()
			}
		}
	}
}

// open expects b.mu held.
func (b *Bridge) open() error {
	if b.newDriver == nil {
		return ErrNoDriver
	}
	drv, err := b.newDriver()
	if err != nil {
		return err
	}
	b.drv = drv

	handle := b.handler()
	ins, err := drv.Ins()
	if err != nil {
		b.log.Warn("listing inputs", zap.Error(err))
	}
	for _, in := range ins {
		if !Compatible(in.Name(), b.match) {
			continue
		}
		stop, err := in.Listen(handle)
		if err != nil {
			b.log.Warn("input unavailable", zap.String("port", in.Name()), zap.Error(err))
			continue
		}
		b.ins = append(b.ins, in)
		b.stops = append(b.stops, stop)
		b.log.Info("input connected", zap.String("port", in.Name()))
	}

	outs, err := drv.Outs()
	if err != nil {
		b.log.Warn("listing outputs", zap.Error(err))
	}
	for _, out := range outs {
		if !Compatible(out.Name(), b.match) {
			continue
		}
		b.outs = append(b.outs, out)
		b.log.Info("output connected", zap.String("port", out.Name()))
	}

	if len(b.ins) == 0 && len(b.outs) == 0 {
		b.log.Info("no compatible MIDI devices", zap.Strings("match", b.match))
	}
	return nil
}

// close expects b.mu held.
func (b *Bridge) close() error {
	var err error
	for _, stop := range b.stops {
		stop()
	}
	for _, in := range b.ins {
		err = multierr.Append(err, in.Close())
	}
	for _, out := range b.outs {
		err = multierr.Append(err, out.Close())
	}
	if b.drv != nil {
		err = multierr.Append(err, b.drv.Close())
	}
	b.stops, b.ins, b.outs, b.drv = nil, nil, nil, nil
	return err
}
