package device

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Sample
		wantErr bool
	}{
		{
			name: "valid line - heating",
			line: "1234567890123,17735,42",
			want: Sample{
				Timestamp:   time.Unix(0, 1234567890123*1000),
				Temperature: 177.35,
				Power:       42,
			},
		},
		{
			name: "valid line - heater off",
			line: "1234567890123,2210,0",
			want: Sample{
				Timestamp:   time.Unix(0, 1234567890123*1000),
				Temperature: 22.1,
			},
		},
		{
			name: "valid line - negative temperature",
			line: "1,-550,0",
			want: Sample{
				Timestamp:   time.Unix(0, 1000),
				Temperature: -5.5,
			},
		},
		{
			name: "thermocouple fault",
			line: "1234567890123,ERR,100",
			want: Sample{
				Timestamp: time.Unix(0, 1234567890123*1000),
				Fault:     true,
				Power:     100,
			},
		},
		{
			name:    "invalid - too few fields",
			line:    "1234567890123,17735",
			wantErr: true,
		},
		{
			name:    "invalid - too many fields",
			line:    "1234567890123,17735,42,1",
			wantErr: true,
		},
		{
			name:    "invalid - timestamp",
			line:    "abc,17735,42",
			wantErr: true,
		},
		{
			name:    "invalid - temperature",
			line:    "1234567890123,hot,42",
			wantErr: true,
		},
		{
			name:    "invalid - temperature out of range",
			line:    "1234567890123,200000,42",
			wantErr: true,
		},
		{
			name:    "invalid - power out of range",
			line:    "1234567890123,17735,101",
			wantErr: true,
		},
		{
			name:    "invalid - power negative",
			line:    "1234567890123,17735,-1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Timestamp.UnixNano(), got.Timestamp.UnixNano())
			assert.InDelta(t, tt.want.Temperature, got.Temperature, 1e-9)
			assert.Equal(t, tt.want.Fault, got.Fault)
			assert.Equal(t, tt.want.Power, got.Power)
		})
	}
}

func TestNewSerial(t *testing.T) {
	dev := NewSerial("COM3", 57600, time.Second, nil)
	assert.NotNil(t, dev)
	assert.Equal(t, "COM3", dev.port)
	assert.Equal(t, 57600, dev.baudRate)
	assert.Equal(t, time.Second, dev.staleAfter)
	assert.False(t, dev.IsConnected())
}

func TestNewSerial_Defaults(t *testing.T) {
	dev := NewSerial("COM3", 0, 0, nil)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultStaleAfter, dev.staleAfter)
	assert.NotNil(t, dev.log)
}

func TestSerial_NotConnected(t *testing.T) {
	dev := NewSerial("COM3", 0, 0, nil)

	_, err := dev.ReadTemperature()
	assert.ErrorIs(t, err, ErrSensorFault)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, dev.SetPower(50), ErrNotConnected)
	assert.False(t, dev.IsActive())

	// Shutoff still clears the commanded power even without a link.
	assert.ErrorIs(t, dev.EmergencyShutoff(), ErrNotConnected)
	assert.NoError(t, dev.Close())
}

func TestSerial_CloseWithoutConnect(t *testing.T) {
	var logs bytes.Buffer
	dev := NewSerial("COM3", 0, 0, hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Trace}))

	assert.NoError(t, dev.Close())
	assert.NoError(t, dev.Close())
	assert.Empty(t, logs.String(), "nothing to switch off on a link that never opened")
}

func TestSerial_ReadSamples(t *testing.T) {
	dev := NewSerial("COM3", 0, time.Minute, nil)
	dev.connected = true

	_, err := dev.ReadTemperature()
	assert.ErrorIs(t, err, ErrSensorFault, "no reading yet")

	dev.readSamples(strings.NewReader("garbage\n\n1,17000,10\n2,17735,42\n"))

	temp, err := dev.ReadTemperature()
	require.NoError(t, err)
	assert.InDelta(t, 177.35, temp, 1e-9)
}

func TestSerial_ReadSamples_Fault(t *testing.T) {
	dev := NewSerial("COM3", 0, time.Minute, nil)
	dev.connected = true

	dev.readSamples(strings.NewReader("1,17000,10\n2,ERR,10\n"))

	_, err := dev.ReadTemperature()
	assert.ErrorIs(t, err, ErrSensorFault)
}

func TestSerial_StaleReading(t *testing.T) {
	dev := NewSerial("COM3", 0, time.Millisecond, nil)
	dev.connected = true

	dev.readSamples(strings.NewReader("1,17000,10\n"))
	time.Sleep(5 * time.Millisecond)

	_, err := dev.ReadTemperature()
	assert.ErrorIs(t, err, ErrSensorFault)
	assert.Contains(t, err.Error(), "old")
}
