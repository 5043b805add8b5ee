package device

import "errors"

var (
	// ErrSensorFault is returned when no trustworthy temperature is available.
	ErrSensorFault = errors.New("device: sensor fault")
	// ErrNotConnected is returned by commands issued to a closed head.
	ErrNotConnected = errors.New("device: not connected")
)

// Actuator drives the heating element.
type Actuator interface {
	// SetPower commands the heater duty cycle in percent (0..100).
	SetPower(percent uint8) error
	// IsActive reports whether the heater is currently commanded on.
	IsActive() bool
	// EmergencyShutoff forces the heater off. It must not depend on the
	// control loop and must be safe to call at any time.
	EmergencyShutoff() error
}

// Sensor reads the platen temperature.
type Sensor interface {
	// ReadTemperature returns the platen temperature in °C or an error
	// wrapping ErrSensorFault.
	ReadTemperature() (float64, error)
}

// Head is a press head: heater and platen sensor behind one link.
type Head interface {
	Actuator
	Sensor
	Connect() error
	Close() error
	IsConnected() bool
}

// Ensure Serial implements Head.
var _ Head = (*Serial)(nil)

// Ensure Mock implements Head.
var _ Head = (*Mock)(nil)
