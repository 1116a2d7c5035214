//go:build midi_native

package midibridge

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// NewDriver opens the rtmidi driver.
func NewDriver() (Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return Wrap(drv), nil
}
