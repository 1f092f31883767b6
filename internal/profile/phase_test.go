package profile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_StringRoundTrip(t *testing.T) {
	for p := DryInitial; p <= Complete; p++ {
		parsed, err := ParsePhase(p.String())
		require.NoError(t, err, "every canonical name must parse")
		assert.Equal(t, p, parsed)
	}
}

func TestParsePhase_RejectsUnknown(t *testing.T) {
	_, err := ParsePhase("freeze_dry")
	require.Error(t, err, "unknown phase names are rejected at the boundary")
	assert.Contains(t, err.Error(), "freeze_dry")
}

func TestPhase_Next(t *testing.T) {
	next, ok := DryInitial.Next()
	require.True(t, ok)
	assert.Equal(t, DryMid, next)

	next, ok = Storage.Next()
	require.True(t, ok)
	assert.Equal(t, Complete, next)

	_, ok = Complete.Next()
	assert.False(t, ok, "Complete is terminal")
}

func TestPhase_Ordering(t *testing.T) {
	assert.True(t, DryInitial.Before(Storage))
	assert.True(t, Cure.Before(Storage))
	assert.False(t, Storage.Before(Storage))
	assert.False(t, Storage.Before(DryFinal))
}

func TestPhase_IsDrying(t *testing.T) {
	assert.True(t, DryInitial.IsDrying())
	assert.True(t, Cure.IsDrying())
	assert.False(t, Storage.IsDrying())
	assert.False(t, Complete.IsDrying())
}

func TestPhase_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Cure)
	require.NoError(t, err)
	assert.Equal(t, `"cure"`, string(data))

	var p Phase
	require.NoError(t, json.Unmarshal([]byte(`"dry_final"`), &p))
	assert.Equal(t, DryFinal, p)

	err = json.Unmarshal([]byte(`"bogus"`), &p)
	assert.Error(t, err, "invalid phase names fail to unmarshal")
}
