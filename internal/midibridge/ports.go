package midibridge

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrNoDriver is returned by NewDriver when the binary carries no native
// MIDI driver.
var ErrNoDriver = errors.New("native MIDI driver is not included in this build (build with -tags midi_native)")

// InPort is an input port. Listen delivers messages on a driver goroutine
// until the returned stop func is called.
type InPort interface {
	Name() string
	Listen(fn func(msg midi.Message)) (stop func(), err error)
	Close() error
}

// OutPort is an output port.
type OutPort interface {
	Name() string
	Send(msg midi.Message) error
	Close() error
}

// Driver enumerates the system's ports.
type Driver interface {
	Ins() ([]InPort, error)
	Outs() ([]OutPort, error)
	Close() error
}

// Wrap adapts a gomidi driver.
func Wrap(drv drivers.Driver) Driver {
	return &gomidiDriver{drv: drv}
}

type gomidiDriver struct {
	drv drivers.Driver
}

func (g *gomidiDriver) Ins() ([]InPort, error) {
	ins, err := g.drv.Ins()
	if err != nil {
		return nil, err
	}
	out := make([]InPort, len(ins))
	for i, in := range ins {
		out[i] = &gomidiIn{in: in}
	}
	return out, nil
}

func (g *gomidiDriver) Outs() ([]OutPort, error) {
	outs, err := g.drv.Outs()
	if err != nil {
		return nil, err
	}
	res := make([]OutPort, len(outs))
	for i, o := range outs {
		res[i] = &gomidiOut{out: o}
	}
	return res, nil
}

func (g *gomidiDriver) Close() error { return g.drv.Close() }

type gomidiIn struct {
	in drivers.In
}

func (p *gomidiIn) Name() string { return p.in.String() }

func (p *gomidiIn) Listen(fn func(msg midi.Message)) (func(), error) {
	if !p.in.IsOpen() {
		if err := p.in.Open(); err != nil {
			return nil, fmt.Errorf("open %q: %w", p.in.String(), err)
		}
	}
	stop, err := midi.ListenTo(p.in, func(msg midi.Message, _ int32) {
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", p.in.String(), err)
	}
	return stop, nil
}

func (p *gomidiIn) Close() error { return p.in.Close() }

type gomidiOut struct {
	out  drivers.Out
	send func(midi.Message) error
}

func (p *gomidiOut) Name() string { return p.out.String() }

func (p *gomidiOut) Send(msg midi.Message) error {
	if p.send == nil {
		send, err := midi.SendTo(p.out)
		if err != nil {
			return fmt.Errorf("open %q: %w", p.out.String(), err)
		}
		p.send = send
	}
	return p.send(msg)
}

func (p *gomidiOut) Close() error { return p.out.Close() }
