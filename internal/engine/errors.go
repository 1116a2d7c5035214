package engine

import "errors"

// Operation failures. Decode and clip list failures keep the kinds of the
// audio and cliplist packages; device failures wrap ErrDeviceUnavailable
// around the device error.
var (
	ErrNoClip            = errors.New("slot has no clip")
	ErrNotPlaying        = errors.New("nothing is playing")
	ErrInvalidSlot       = errors.New("slot out of range")
	ErrDeviceUnavailable = errors.New("output device unavailable")
	ErrPartialLoad       = errors.New("directory partially loaded")
	ErrNoFilename        = errors.New("clip list has no file name")
	ErrNoRecent          = errors.New("no such recently used entry")
	ErrClosed            = errors.New("engine closed")
)
