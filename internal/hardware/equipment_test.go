package hardware

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquipmentID_StringRoundTrip(t *testing.T) {
	for _, id := range AllEquipment() {
		parsed, err := ParseEquipmentID(id.String())
		require.NoError(t, err, "every canonical name must parse")
		assert.Equal(t, id, parsed)
	}
}

func TestParseEquipmentID_RejectsUnknown(t *testing.T) {
	_, err := ParseEquipmentID("space_heater")
	require.Error(t, err, "the equipment set is closed")
	assert.Contains(t, err.Error(), "space_heater")
}

func TestEquipmentID_JSON(t *testing.T) {
	data, err := json.Marshal(FreshAirExchanger)
	require.NoError(t, err)
	assert.Equal(t, `"fresh_air_exchanger"`, string(data))

	var id EquipmentID
	require.NoError(t, json.Unmarshal([]byte(`"return_fan"`), &id))
	assert.Equal(t, ReturnFan, id)

	assert.Error(t, json.Unmarshal([]byte(`"hot_tub"`), &id))
}

func TestStates_MapRoundTrip(t *testing.T) {
	var s States
	s[Dehumidifier] = true
	s[SupplyFan] = true

	m := s.ToMap()
	assert.Equal(t, "on", m["dehumidifier"])
	assert.Equal(t, "off", m["humidifier_solenoid"])
	require.Len(t, m, NumEquipment)

	back, err := StatesFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestStatesFromMap_MissingEquipmentDefaultsOff(t *testing.T) {
	back, err := StatesFromMap(map[string]string{"dehumidifier": "on"})
	require.NoError(t, err)
	assert.True(t, back[Dehumidifier])
	assert.False(t, back[ClimateUnit], "absent entries mean off")
}

func TestStatesFromMap_RejectsGarbage(t *testing.T) {
	_, err := StatesFromMap(map[string]string{"dehumidifier": "maybe"})
	assert.Error(t, err, "states are on/off only")

	_, err = StatesFromMap(map[string]string{"flux_capacitor": "on"})
	assert.Error(t, err, "unknown equipment rejected at the boundary")
}

func TestZeroStates_IsAllOff(t *testing.T) {
	var s States
	for _, id := range AllEquipment() {
		assert.False(t, s[id], "zero value must be the safe state")
	}
}
