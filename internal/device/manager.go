package device

import (
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config selects the output. An empty DriverID means the first registered
// driver.
type Config struct {
	DriverID      string `json:"driverId"`
	ChannelOffset int    `json:"channelOffset"`
}

// Manager holds at most one open device and reopens it after Configure.
type Manager struct {
	log       *zap.Logger
	onStopped StoppedFunc

	mu      sync.Mutex
	drivers []Driver
	cfg     Config
	dirty   bool
	dev     Device
	devID   string
}

// NewManager creates a manager. onStopped is handed to every device it opens.
func NewManager(logger *zap.Logger, onStopped StoppedFunc, drivers ...Driver) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		log:       logger.Named("device"),
		onStopped: onStopped,
		drivers:   drivers,
	}
}

// Register appends drivers. Later registrations with an existing ID are
// ignored.
func (m *Manager) Register(drivers ...Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range drivers {
		if m.lookup(d.ID()) != nil {
			m.log.Debug("duplicate driver ignored", zap.String("driver", d.ID()))
			continue
		}
		m.drivers = append(m.drivers, d)
	}
}

// SetStoppedFunc replaces the callback used for devices opened from now on.
func (m *Manager) SetStoppedFunc(fn StoppedFunc) {
	m.mu.Lock()
	m.onStopped = fn
	m.mu.Unlock()
}

// Drivers lists the registered drivers in registration order.
func (m *Manager) Drivers() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, len(m.drivers))
	for i, d := range m.drivers {
		out[i] = Info{ID: d.ID(), Name: d.Name()}
	}
	return out
}

// Configure records a new selection. The open device, if any, is replaced
// on the next EnsureReady.
func (m *Manager) Configure(driverID string, channelOffset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channelOffset < 0 {
		channelOffset = 0
	}
	m.cfg = Config{DriverID: driverID, ChannelOffset: channelOffset}
	m.dirty = true
}

// Config returns the current selection.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Current returns the open device or nil.
func (m *Manager) Current() Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev
}

// EnsureReady returns the open device, opening it first when none is open,
// the driver changed or Configure was called since the last open.
func (m *Manager) EnsureReady() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drv := m.resolve()
	id := m.cfg.DriverID
	if drv != nil {
		id = drv.ID()
	}
	if m.dev != nil && !m.dirty && m.devID == id {
		return m.dev, nil
	}

	if err := m.teardown(); err != nil {
		m.log.Warn("closing previous device", zap.Error(err))
	}

	if drv == nil {
		return nil, &Error{Driver: m.cfg.DriverID, Kind: ErrUnavailable}
	}

	dev, err := drv.Open(m.cfg.ChannelOffset, m.onStopped)
	if err != nil {
		m.log.Warn("open failed",
			zap.String("driver", id),
			zap.Int("channel_offset", m.cfg.ChannelOffset),
			zap.Error(err),
		)
		var de *Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &Error{Driver: id, Kind: ErrInitFailed, Err: err}
	}

	m.dev = dev
	m.devID = id
	m.dirty = false
	m.log.Info("output ready",
		zap.String("driver", id),
		zap.Int("channel_offset", dev.ChannelOffset()),
	)
	return dev, nil
}

// Dispose stops and releases the open device.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardown()
}

func (m *Manager) teardown() error {
	if m.dev == nil {
		return nil
	}
	dev := m.dev
	m.dev = nil
	m.devID = ""
	return multierr.Append(dev.Stop(), dev.Close())
}

func (m *Manager) resolve() Driver {
	if m.cfg.DriverID == "" {
		if len(m.drivers) == 0 {
			return nil
		}
		return m.drivers[0]
	}
	return m.lookup(m.cfg.DriverID)
}

func (m *Manager) lookup(id string) Driver {
	for _, d := range m.drivers {
		if d.ID() == id {
			return d
		}
	}
	return nil
}
