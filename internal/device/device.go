// Package device owns the audio output: driver enumeration, the single live
// device handle and the backends that render a clip.
package device

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/satindergrewal/clipdeck/internal/audio"
)

// Failure kinds. Match with errors.Is.
var (
	ErrUnavailable = errors.New("output device unavailable")
	ErrInitFailed  = errors.New("output device init failed")
)

// Error reports a failure acquiring or driving an output device.
type Error struct {
	Driver string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %q: %v: %v", e.Driver, e.Kind, e.Err)
	}
	return fmt.Sprintf("device %q: %v", e.Driver, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// StoppedFunc is called once for every Play after the output has actually
// stopped, whether through Stop, Close or a driver error. It may run on any
// goroutine.
type StoppedFunc func(err error)

// Device is one open output.
//
// Init binds the PCM source for the next Play. Stop returns immediately;
// completion is reported through the StoppedFunc given to Driver.Open.
// AtEnd reports that the source has been drained.
type Device interface {
	Init(format audio.Format, src io.Reader) error
	Play() error
	Stop() error
	AtEnd() bool
	ChannelOffset() int
	Close() error
}

// Driver opens devices of one backend.
type Driver interface {
	ID() string
	Name() string
	Open(channelOffset int, onStopped StoppedFunc) (Device, error)
}

// Info describes a registered driver.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StopSignal delivers a StoppedFunc at most once per Arm.
type StopSignal struct {
	mu    sync.Mutex
	fn    StoppedFunc
	armed bool
}

// NewStopSignal wraps fn. A nil fn is allowed.
func NewStopSignal(fn StoppedFunc) *StopSignal {
	return &StopSignal{fn: fn}
}

// Arm marks a Play as outstanding.
func (s *StopSignal) Arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

// Armed reports whether a Play is waiting for its stop.
func (s *StopSignal) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Fire calls the StoppedFunc on a new goroutine if armed. It reports whether
// a call was made.
func (s *StopSignal) Fire(err error) bool {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return false
	}
	s.armed = false
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		go fn(err)
	}
	return true
}
