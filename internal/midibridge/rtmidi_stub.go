//go:build !midi_native

package midibridge

// NewDriver reports that no native driver is linked.
func NewDriver() (Driver, error) {
	return nil, ErrNoDriver
}
