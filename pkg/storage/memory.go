package storage

import (
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process store for tests and dry runs. Faults can be
// injected to exercise the degraded paths.
type Memory struct {
	records

	mu         sync.Mutex
	data       map[string][]byte
	writeErr   error
	readErr    error
	writeDelay time.Duration
	writes     int
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	m := &Memory{data: make(map[string][]byte)}
	m.records = records{b: m}
	return m
}

// Close implements io.Closer.
func (m *Memory) Close() error {
	return nil
}

// FailWrites makes every write fail with err wrapped in ErrIO until called
// with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailReads makes every read fail with err wrapped in ErrIO until called
// with nil.
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteDelay makes every write block for d.
func (m *Memory) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = d
}

// Corrupt flips a byte in the middle of the stored record for key.
func (m *Memory) Corrupt(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data := m.data[key]; len(data) > 0 {
		data[len(data)/2] ^= 0x5a
	}
}

// Put stores raw bytes for key, bypassing the envelope.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, key, m.readErr)
	}
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) put(key string, data []byte) error {
	m.mu.Lock()
	delay := m.writeDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, key, m.writeErr)
	}
	m.data[key] = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *Memory) del(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, key, m.writeErr)
	}
	delete(m.data, key)
	return nil
}
