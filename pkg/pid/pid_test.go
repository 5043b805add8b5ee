package pid

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestUpdate_FirstCallRecordsTimeOnly(t *testing.T) {
	c := New(Config{Kp: 1, Target: 100, OutputMin: 0, OutputMax: 100})

	out, ok := c.Update(95, t0)
	assert.False(t, ok)
	assert.Equal(t, 0.0, out)

	out, ok = c.Update(95, t0.Add(2*time.Second))
	require.True(t, ok)
	assert.InDelta(t, 5.0, out, 1e-9)
}

func TestUpdate_ZeroTimestampIsAValidFirstSample(t *testing.T) {
	c := New(Config{Kp: 1, Target: 10, OutputMin: 0, OutputMax: 100})

	_, ok := c.Update(5, time.Time{})
	assert.False(t, ok)

	out, ok := c.Update(5, time.Time{}.Add(time.Second))
	require.True(t, ok)
	assert.InDelta(t, 5.0, out, 1e-9)
}

func TestUpdate_NonPositiveDtRepeatsPreviousOutput(t *testing.T) {
	c := New(Config{Kp: 1, Ki: 1, Kd: 1, Target: 100, OutputMin: 0, OutputMax: 100})

	c.Update(90, t0)
	first, ok := c.Update(90, t0.Add(time.Second))
	require.True(t, ok)
	terms := c.Terms()

	out, ok := c.Update(50, t0.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, first, out)
	assert.Equal(t, terms, c.Terms(), "duplicate timestamp must not touch the state")

	out, ok = c.Update(50, t0)
	assert.True(t, ok)
	assert.Equal(t, first, out, "backwards clock must not touch the state")
}

func TestUpdate_NonPositiveDtBeforeAnyOutput(t *testing.T) {
	c := New(Config{Kp: 1, Target: 100, OutputMin: 0, OutputMax: 100})
	c.Update(90, t0)

	out, ok := c.Update(90, t0)
	assert.False(t, ok)
	assert.Equal(t, 0.0, out)
}

func TestUpdate_IntegralIsClamped(t *testing.T) {
	c := New(Config{Ki: 1, Target: 200, OutputMin: 0, OutputMax: 100})
	c.Update(20, t0)

	now := t0
	for i := 0; i < 50; i++ {
		now = now.Add(10 * time.Second)
		c.Update(20, now)
	}
	assert.Equal(t, 100.0, c.Terms().Integral)

	// Overshoot unwinds immediately because the integral never grew past the bound.
	now = now.Add(time.Second)
	out, _ := c.Update(300, now)
	assert.InDelta(t, 0.0, out, 1e-9)
	assert.InDelta(t, 0.0, c.Terms().Integral, 1e-9)
}

func TestUpdate_Derivative(t *testing.T) {
	c := New(Config{Kd: 2, Target: 100, OutputMin: -100, OutputMax: 100})
	c.Update(90, t0) // error 10

	out, ok := c.Update(94, t0.Add(2*time.Second)) // error 6
	require.True(t, ok)
	assert.InDelta(t, -4.0, out, 1e-9) // 2 * (6-10)/2
}

func TestUpdate_OutputAlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := New(Config{Kp: 8, Ki: 0.7, Kd: 30, Target: 180, OutputMin: 0, OutputMax: 100})

	now := t0
	for i := 0; i < 10000; i++ {
		// Jittery clock including duplicates and backwards steps.
		now = now.Add(time.Duration(rng.Intn(400)-50) * time.Millisecond)
		temp := rng.Float64()*1000 - 300
		if i%97 == 0 {
			temp = math.Inf(1)
		}

		out, _ := c.Update(temp, now)
		require.GreaterOrEqual(t, out, 0.0)
		require.LessOrEqual(t, out, 100.0)
	}
}

func TestReset(t *testing.T) {
	c := New(Config{Kp: 1, Ki: 1, Target: 100, OutputMin: 0, OutputMax: 100})
	c.Update(50, t0)
	c.Update(50, t0.Add(time.Second))

	c.Reset()
	assert.Equal(t, Terms{}, c.Terms())

	_, ok := c.Update(50, t0.Add(2*time.Second))
	assert.False(t, ok, "first update after reset produces no output")
}

func TestInitialize_SwapsInvertedBounds(t *testing.T) {
	c := New(Config{OutputMin: 100, OutputMax: 0})
	assert.Equal(t, 0.0, c.Config().OutputMin)
	assert.Equal(t, 100.0, c.Config().OutputMax)
}

func TestSetTargetAndGains(t *testing.T) {
	c := New(DefaultConfig())
	c.SetTarget(150)
	c.SetGains(1, 2, 3)

	cfg := c.Config()
	assert.Equal(t, 150.0, cfg.Target)
	assert.Equal(t, 1.0, cfg.Kp)
	assert.Equal(t, 2.0, cfg.Ki)
	assert.Equal(t, 3.0, cfg.Kd)
}
