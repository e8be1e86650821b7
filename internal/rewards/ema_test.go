package rewards

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMAStore_UpdateRule(t *testing.T) {
	s := NewEMAStore(0.3, 1e-6, "")

	next, updated := s.Update(map[string]float64{"a": 1.0, "b": 0.5})
	require.True(t, updated)
	assert.InDelta(t, 0.3, next["a"], 1e-12)
	assert.InDelta(t, 0.15, next["b"], 1e-12)

	// a drops out: it decays by (1-alpha)
	next, updated = s.Update(map[string]float64{"b": 0.5})
	require.True(t, updated)
	assert.InDelta(t, 0.3*0.7, next["a"], 1e-12)
	assert.InDelta(t, 0.3*0.5+0.7*0.15, next["b"], 1e-12)
}

func TestEMAStore_NoPositiveRawSkipsUpdate(t *testing.T) {
	s := NewEMAStore(0.3, 1e-6, "")
	s.Update(map[string]float64{"a": 1.0})
	before := s.Weights()

	_, updated := s.Update(map[string]float64{"a": 0})
	assert.False(t, updated)
	assert.Equal(t, before, s.Weights(), "no decay and no refresh on empty runs")

	_, updated = s.Update(nil)
	assert.False(t, updated)
}

func TestEMAStore_NonFiniteInputsIgnored(t *testing.T) {
	s := NewEMAStore(0.3, 1e-6, "")
	next, updated := s.Update(map[string]float64{
		"a":   1.0,
		"inf": math.Inf(1),
		"nan": math.NaN(),
	})
	require.True(t, updated)
	assert.InDelta(t, 0.3, next["a"], 1e-12)
	assert.NotContains(t, next, "inf")
	assert.NotContains(t, next, "nan")
}

func TestEMAStore_ConvergenceAndDecay(t *testing.T) {
	// property 11: a constant raw input converges monotonically; a silent
	// hotkey falls below epsilon in bounded steps
	s := NewEMAStore(0.3, 1e-6, "")
	s.Update(map[string]float64{"gone": 1.0})

	prevDist := math.Inf(1)
	for i := 0; i < 50; i++ {
		next, _ := s.Update(map[string]float64{"stable": 2.0})
		dist := math.Abs(next["stable"] - 2.0)
		assert.Less(t, dist, prevDist, "step %d should move toward the target", i)
		prevDist = dist
	}
	assert.InDelta(t, 2.0, s.Weights()["stable"], 1e-3)
	assert.Less(t, s.Weights()["gone"], 1e-6, "decayed below epsilon after 50 runs")
}

func TestEMAStore_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ema_state.json")

	s := NewEMAStore(0.3, 1e-6, path)
	s.Update(map[string]float64{"a": 1.0, "b": 0.25})
	expected := s.Weights()

	restored := NewEMAStore(0.3, 1e-6, path)
	assert.Equal(t, expected, restored.Weights())
}

func TestEMAStore_CorruptStateStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ema_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewEMAStore(0.3, 1e-6, path)
	assert.Empty(t, s.Weights())
}
