package press

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	assert.True(t, DefaultSettings().Valid())
	assert.NoError(t, ValidateSettings(DefaultSettings()))
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		valid  bool
	}{
		{"defaults", func(*Settings) {}, true},
		{"negative gains are allowed", func(s *Settings) { s.Kp = -1; s.Ki = -0.1 }, true},
		{"zero target", func(s *Settings) { s.TargetTemp = 0 }, false},
		{"negative target", func(s *Settings) { s.TargetTemp = -10 }, false},
		{"infinite target", func(s *Settings) { s.TargetTemp = math.Inf(1) }, false},
		{"NaN kp", func(s *Settings) { s.Kp = math.NaN() }, false},
		{"infinite ki", func(s *Settings) { s.Ki = math.Inf(-1) }, false},
		{"NaN kd", func(s *Settings) { s.Kd = math.NaN() }, false},
		{"zero stage1", func(s *Settings) { s.Stage1Default = 0 }, false},
		{"zero stage2", func(s *Settings) { s.Stage2Default = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)

			err := ValidateSettings(s)
			assert.Equal(t, tt.valid, s.Valid())
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrConfig), "expected ErrConfig, got %v", err)
			}
		})
	}
}
