package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/hashicorp/go-hclog"
	"github.com/itohio/heatpress/pkg/config"
)

// Mock simulates a press head: a platen with first-order thermal lag driven
// by a duty-cycled heater.
type Mock struct {
	cfg config.MockConfig
	log hclog.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	power       uint8
	temperature float32 // °C, noise free
	elapsed     float32 // Simulated seconds, drives the noise pattern
	faults      int     // Pending injected sensor faults
}

// NewMock creates a new simulated press head resting at ambient temperature.
func NewMock(cfg *config.MockConfig, logger hclog.Logger) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Mock{
		cfg:         *cfg,
		log:         logger.Named("mock"),
		temperature: float32(cfg.Ambient),
	}
}

// Connect simulates connecting to the press head. When SampleRate is set the
// thermal model advances in real time; otherwise it only moves on Step.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true

	if m.cfg.SampleRate > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.simulate(ctx, m.done)
	}

	return nil
}

// Close stops the simulation and switches the heater off.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = false
	m.power = 0
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// IsConnected returns whether the head is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetPower sets the simulated heater duty cycle.
func (m *Mock) SetPower(percent uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	if percent > 100 {
		percent = 100
	}
	m.power = percent
	return nil
}

// Power returns the commanded duty cycle.
func (m *Mock) Power() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.power
}

// IsActive reports whether the heater is commanded on.
func (m *Mock) IsActive() bool {
	return m.Power() > 0
}

// EmergencyShutoff switches the heater off. It works while disconnected.
func (m *Mock) EmergencyShutoff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.power > 0 {
		m.log.Warn("emergency shutoff", "power", m.power)
	}
	m.power = 0
	return nil
}

// ReadTemperature returns the simulated platen temperature with noise.
func (m *Mock) ReadTemperature() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, fmt.Errorf("%w: %w", ErrSensorFault, ErrNotConnected)
	}
	if m.faults > 0 {
		m.faults--
		return 0, fmt.Errorf("%w: injected", ErrSensorFault)
	}
	return float64(m.temperature + m.noise()), nil
}

// InjectFaults makes the next n reads fail.
func (m *Mock) InjectFaults(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = n
}

// SetTemperature forces the platen temperature.
func (m *Mock) SetTemperature(celsius float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temperature = float32(celsius)
}

// Step advances the thermal model by dt.
func (m *Mock) Step(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step(dt)
}

func (m *Mock) step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	seconds := float32(dt.Seconds())
	m.elapsed += seconds

	// Exact discretisation of T' = (T_ss - T) / tau.
	steady := float32(m.cfg.Ambient) + float32(m.cfg.HeaterRise)*float32(m.power)/100
	tau := float32(m.cfg.TimeConstant.Seconds())
	if tau <= 0 {
		m.temperature = steady
		return
	}
	alpha := 1 - math32.Exp(-seconds/tau)
	m.temperature += alpha * (steady - m.temperature)
}

// noise is a deterministic wobble so runs are reproducible.
func (m *Mock) noise() float32 {
	if m.cfg.NoiseLevel == 0 {
		return 0
	}
	return (math32.Sin(m.elapsed*7.3) + math32.Cos(m.elapsed*5.1)) * float32(m.cfg.NoiseLevel) * 0.5
}

// simulate advances the model in real time until ctx is done.
func (m *Mock) simulate(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Step(now.Sub(last))
			last = now
		}
	}
}
