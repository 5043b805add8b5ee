package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the press head MCU link speed.
	DefaultBaudRate = 115200
	// DefaultStaleAfter is how long a reading stays trustworthy.
	DefaultStaleAfter = 2 * time.Second
)

// Sample is a measurement reported by the press head MCU.
type Sample struct {
	Timestamp   time.Time // MCU clock
	Temperature float64   // °C
	Fault       bool      // Thermocouple open or out of range
	Power       uint8     // Duty cycle the MCU is applying (%)
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the press head MCU.
//
// The host sends "P<percent>\n" to set the heater duty cycle and "X\n" for an
// emergency shutoff. The MCU streams "unix_micros,temp_centi_c,power" lines;
// the temperature field reads "ERR" when the thermocouple faults.
type Serial struct {
	port       string
	baudRate   int
	staleAfter time.Duration
	log        hclog.Logger

	conn      serial.Port
	mu        sync.RWMutex
	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	last     Sample
	received time.Time // Host time of the last sample
	power    uint8     // Last commanded duty cycle
}

// NewSerial creates a press head link on port.
func NewSerial(port string, baudRate int, staleAfter time.Duration, logger hclog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if staleAfter == 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:       port,
		baudRate:   baudRate,
		staleAfter: staleAfter,
		log:        logger.Named("serial"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading samples.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readSamples(port)

	return nil
}

// Close turns the heater off and closes the port.
func (d *Serial) Close() error {
	if !d.IsConnected() {
		return nil
	}
	if err := d.EmergencyShutoff(); err != nil {
		d.log.Warn("failed to switch heater off on close", "error", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			d.log.Error("error closing serial port", "error", err)
		}
		d.conn = nil
	}

	d.connected = false
	return nil
}

// IsConnected returns whether the link is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// SetPower commands the heater duty cycle.
func (d *Serial) SetPower(percent uint8) error {
	if percent > 100 {
		percent = 100
	}
	if err := d.write(fmt.Sprintf("P%d\n", percent)); err != nil {
		return fmt.Errorf("failed to send power command: %w", err)
	}

	d.mu.Lock()
	d.power = percent
	d.mu.Unlock()
	return nil
}

// IsActive reports whether the heater is commanded on.
func (d *Serial) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected && d.power > 0
}

// EmergencyShutoff tells the MCU to drop heater power immediately.
func (d *Serial) EmergencyShutoff() error {
	d.mu.Lock()
	d.power = 0
	d.mu.Unlock()

	if err := d.write("X\n"); err != nil {
		return fmt.Errorf("failed to send shutoff: %w", err)
	}
	return nil
}

// ReadTemperature returns the latest platen temperature.
func (d *Serial) ReadTemperature() (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch {
	case !d.connected:
		return 0, fmt.Errorf("%w: %w", ErrSensorFault, ErrNotConnected)
	case d.received.IsZero():
		return 0, fmt.Errorf("%w: no reading yet", ErrSensorFault)
	case d.last.Fault:
		return 0, fmt.Errorf("%w: thermocouple fault reported", ErrSensorFault)
	case time.Since(d.received) > d.staleAfter:
		return 0, fmt.Errorf("%w: last reading is %v old", ErrSensorFault, time.Since(d.received).Round(time.Millisecond))
	}
	return d.last.Temperature, nil
}

func (d *Serial) write(cmd string) error {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := conn.Write([]byte(cmd))
	return err
}

// readSamples reads lines from the serial port and keeps the latest sample.
func (d *Serial) readSamples(conn io.Reader) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in readSamples", "panic", r)
		}
	}()

	scanner := bufio.NewScanner(conn)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil && err != io.EOF {
					d.log.Error("error reading from serial port", "error", err)
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			sample, err := parseLine(line)
			if err != nil {
				d.log.Debug("failed to parse line", "line", line, "error", err)
				continue
			}

			d.mu.Lock()
			d.last = sample
			d.received = time.Now()
			d.mu.Unlock()
		}
	}
}

// parseLine parses a line from the MCU into a Sample.
// Format: unix_micros,temp_centi_c,power
// Example: 1234567890123,17735,42
func parseLine(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Sample{}, fmt.Errorf("invalid line format: expected 3 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	sample := Sample{Timestamp: time.UnixMicro(timestampMicros)}

	if parts[1] == "ERR" {
		sample.Fault = true
	} else {
		centi, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid temperature: %w", err)
		}
		// MAX31855 range
		if centi < -27000 || centi > 180000 {
			return Sample{}, fmt.Errorf("temperature out of range: %d", centi)
		}
		sample.Temperature = float64(centi) / 100
	}

	power, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid power: %w", err)
	}
	if power > 100 {
		return Sample{}, fmt.Errorf("power out of range: %d (max 100)", power)
	}
	sample.Power = uint8(power)

	return sample, nil
}
