package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAllowed_Literal(t *testing.T) {
	allowed := []string{"on", "off", "whenEmpty"}
	assert.True(t, ValueAllowed("on", allowed))
	assert.True(t, ValueAllowed("whenEmpty", allowed))
	assert.False(t, ValueAllowed("On", allowed))
	assert.False(t, ValueAllowed("", allowed))
}

func TestValueAllowed_Range(t *testing.T) {
	assert.True(t, ValueAllowed("0", []string{"0-16"}))
	assert.True(t, ValueAllowed("16", []string{"0-16"}))
	assert.False(t, ValueAllowed("17", []string{"0-16"}))
	assert.False(t, ValueAllowed("-1", []string{"0-16"}))
	assert.False(t, ValueAllowed("abc", []string{"0-16"}))
}

func TestValueAllowed_RangeWithStep(t *testing.T) {
	allowed := []string{"0-100%25"}
	assert.True(t, ValueAllowed("0", allowed))
	assert.True(t, ValueAllowed("25", allowed))
	assert.True(t, ValueAllowed("100", allowed))
	assert.False(t, ValueAllowed("30", allowed))
}

func TestValueAllowed_Regex(t *testing.T) {
	allowed := []string{"~[a-z]+\\d*"}
	assert.True(t, ValueAllowed("map2", allowed))
	assert.False(t, ValueAllowed("Map2", allowed))
	// Anchored: a partial match is not enough.
	assert.False(t, ValueAllowed("map2!", allowed))
}

func TestValueAllowed_MixedConstraints(t *testing.T) {
	allowed := []string{"off", "1-32", "~auto\\d+"}
	assert.True(t, ValueAllowed("off", allowed))
	assert.True(t, ValueAllowed("8", allowed))
	assert.True(t, ValueAllowed("auto4", allowed))
	assert.False(t, ValueAllowed("0", allowed))
}

func TestSettings_SetRejectsDisallowed(t *testing.T) {
	s := NewSettings()
	require.NoError(t, s.Declare(ScopeGlobal, "autoLock", []string{"off", "on", "advanced"}, false))

	require.NoError(t, s.Set(ScopeGlobal, "autoLock", "on"))
	v, ok := s.Get(ScopeGlobal, "autoLock")
	require.True(t, ok)
	assert.Equal(t, "on", v)

	err := s.Set(ScopeGlobal, "autoLock", "sometimes")
	assert.Error(t, err)
	v, _ = s.Get(ScopeGlobal, "autoLock")
	assert.Equal(t, "on", v, "failed set must not clobber the current value")
}

func TestSettings_ScopeOfSkipsHidden(t *testing.T) {
	s := NewSettings()
	require.NoError(t, s.Declare(ScopePreset, "teamSize", []string{"1-16"}, false))
	require.NoError(t, s.Declare(ScopeGlobal, "secretKnob", []string{"0-1"}, true))

	sc, ok := s.ScopeOf("teamSize")
	require.True(t, ok)
	assert.Equal(t, ScopePreset, sc)

	_, ok = s.ScopeOf("secretKnob")
	assert.False(t, ok)
}

func TestSettings_RangeDefaultIsLowerBound(t *testing.T) {
	s := NewSettings()
	require.NoError(t, s.Declare(ScopePreset, "nbTeams", []string{"2-16"}, false))
	v, ok := s.Get(ScopePreset, "nbTeams")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestParseReconnectDelay(t *testing.T) {
	min, max, err := ParseReconnectDelay("10-30")
	require.NoError(t, err)
	assert.Equal(t, 10, min)
	assert.Equal(t, 30, max)

	min, max, err = ParseReconnectDelay("5")
	require.NoError(t, err)
	assert.Equal(t, 5, min)
	assert.Equal(t, 5, max)

	_, _, err = ParseReconnectDelay("30-10")
	assert.Error(t, err)
	_, _, err = ParseReconnectDelay("x")
	assert.Error(t, err)
}

func TestParseFloodSpec(t *testing.T) {
	c, w, m, err := ParseFloodSpec("3;300;5")
	require.NoError(t, err)
	assert.Equal(t, 3, c)
	assert.Equal(t, 300, w)
	assert.Equal(t, 5, m)

	c, w, m, err = ParseFloodSpec("8;4")
	require.NoError(t, err)
	assert.Equal(t, 8, c)
	assert.Equal(t, 4, w)
	assert.Zero(t, m)

	_, _, _, err = ParseFloodSpec("8")
	assert.Error(t, err)
}
