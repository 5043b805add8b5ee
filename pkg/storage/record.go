// Package storage keeps press settings and the run checkpoint in durable
// storage. Every record is wrapped in a self-describing envelope carrying its
// kind, schema version and a CRC-32 of the payload, so a torn or foreign
// record is reported as ErrCorrupt instead of being trusted.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/itohio/heatpress/pkg/press"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrIO       = errors.New("storage: i/o fault")
	ErrCorrupt  = errors.New("storage: record corrupt")
)

// Record kinds and their current schema versions.
const (
	KindSettings   = "settings"
	KindCheckpoint = "checkpoint"

	SettingsVersion   = 1
	CheckpointVersion = 1
)

type envelope struct {
	Kind     string `yaml:"kind"`
	Version  int    `yaml:"version"`
	Checksum uint32 `yaml:"checksum"`
	Payload  string `yaml:"payload"`
}

// encode wraps v in an envelope.
func encode(kind string, version int, v any) ([]byte, error) {
	payload, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	data, err := yaml.Marshal(envelope{
		Kind:     kind,
		Version:  version,
		Checksum: crc32.ChecksumIEEE(payload),
		Payload:  string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", kind, err)
	}
	return data, nil
}

// decode unwraps data into v after checking kind, version and checksum.
func decode(data []byte, kind string, version int, v any) error {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %s envelope: %v", ErrCorrupt, kind, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: expected %s record, got %q", ErrCorrupt, kind, env.Kind)
	}
	if env.Version < 1 || env.Version > version {
		return fmt.Errorf("%w: unsupported %s version %d", ErrCorrupt, kind, env.Version)
	}
	if sum := crc32.ChecksumIEEE([]byte(env.Payload)); sum != env.Checksum {
		return fmt.Errorf("%w: %s checksum %08x, want %08x", ErrCorrupt, kind, sum, env.Checksum)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(env.Payload)))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrCorrupt, kind, err)
	}
	return nil
}

// backend is the raw key/value surface each store provides. get returns
// ErrNotFound for a missing key.
type backend interface {
	get(key string) ([]byte, error)
	put(key string, data []byte) error
	del(key string) error
}

// records implements the settings and checkpoint operations on a backend.
type records struct {
	b backend
}

// SaveSettings persists s.
func (r records) SaveSettings(s press.Settings) error {
	data, err := encode(KindSettings, SettingsVersion, s)
	if err != nil {
		return err
	}
	return r.b.put(KindSettings, data)
}

// LoadSettings reads the persisted settings.
func (r records) LoadSettings() (press.Settings, error) {
	var s press.Settings
	data, err := r.b.get(KindSettings)
	if err != nil {
		return s, err
	}
	if err := decode(data, KindSettings, SettingsVersion, &s); err != nil {
		return press.Settings{}, err
	}
	return s, nil
}

// SaveCheckpoint persists cp.
func (r records) SaveCheckpoint(cp press.Checkpoint) error {
	data, err := encode(KindCheckpoint, CheckpointVersion, cp)
	if err != nil {
		return err
	}
	return r.b.put(KindCheckpoint, data)
}

// LoadCheckpoint reads the persisted checkpoint.
func (r records) LoadCheckpoint() (press.Checkpoint, error) {
	var cp press.Checkpoint
	data, err := r.b.get(KindCheckpoint)
	if err != nil {
		return cp, err
	}
	if err := decode(data, KindCheckpoint, CheckpointVersion, &cp); err != nil {
		return press.Checkpoint{}, err
	}
	return cp, nil
}

// HasSavedData reports whether a checkpoint record exists. It does not check
// that the record is readable.
func (r records) HasSavedData() bool {
	_, err := r.b.get(KindCheckpoint)
	return err == nil
}

// ClearCheckpoint removes the checkpoint record. Clearing a missing record
// is not an error.
func (r records) ClearCheckpoint() error {
	return r.b.del(KindCheckpoint)
}
