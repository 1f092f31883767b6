package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drydenhq/dryden/internal/config"
	"github.com/drydenhq/dryden/internal/control"
	"github.com/drydenhq/dryden/internal/hardware"
)

// fakeSupervisor records every command it receives.
type fakeSupervisor struct {
	calls []string
	err   error
}

func (s *fakeSupervisor) record(call string) error {
	s.calls = append(s.calls, call)
	return s.err
}

func (s *fakeSupervisor) Start(_ context.Context, resume bool) error {
	return s.record(fmt.Sprintf("start(resume=%v)", resume))
}
func (s *fakeSupervisor) Stop(context.Context) error          { return s.record("stop") }
func (s *fakeSupervisor) Hold() error                         { return s.record("hold") }
func (s *fakeSupervisor) Resume() error                       { return s.record("resume") }
func (s *fakeSupervisor) EmergencyStop(context.Context) error { return s.record("emergency_stop") }
func (s *fakeSupervisor) SetControlMode(_ context.Context, id hardware.EquipmentID, mode control.ControlMode) error {
	return s.record(fmt.Sprintf("set_mode(%s,%s)", id, mode))
}

func newCommandPublisher(sup Supervisor) *Publisher {
	return newPublisher(config.MQTT{TopicPrefix: "test"}, sup, testLogger())
}

func TestHandleCommand_RoutesActions(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"start", `{"action":"start"}`, "start(resume=false)"},
		{"resume emergency", `{"action":"resume_emergency"}`, "start(resume=true)"},
		{"stop", `{"action":"stop"}`, "stop"},
		{"hold", `{"action":"hold"}`, "hold"},
		{"resume", `{"action":"resume"}`, "resume"},
		{"emergency stop", `{"action":"emergency_stop"}`, "emergency_stop"},
		{
			"set mode",
			`{"action":"set_mode","equipment":"dehumidifier","mode":"forced_off"}`,
			"set_mode(dehumidifier,forced_off)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sup := &fakeSupervisor{}
			p := newCommandPublisher(sup)
			p.handleCommand([]byte(tc.payload))
			require.Len(t, sup.calls, 1)
			assert.Equal(t, tc.want, sup.calls[0])
		})
	}
}

func TestHandleCommand_MalformedPayloadIgnored(t *testing.T) {
	sup := &fakeSupervisor{}
	p := newCommandPublisher(sup)

	p.handleCommand([]byte(`{"action":`))
	p.handleCommand([]byte(``))

	assert.Empty(t, sup.calls, "garbage never reaches the supervisor")
}

func TestHandleCommand_UnknownActionIgnored(t *testing.T) {
	sup := &fakeSupervisor{}
	p := newCommandPublisher(sup)

	p.handleCommand([]byte(`{"action":"defrost"}`))

	assert.Empty(t, sup.calls)
}

func TestHandleCommand_BadEquipmentNeverDispatches(t *testing.T) {
	sup := &fakeSupervisor{}
	p := newCommandPublisher(sup)

	p.handleCommand([]byte(`{"action":"set_mode","equipment":"flux_capacitor","mode":"forced_on"}`))
	p.handleCommand([]byte(`{"action":"set_mode","equipment":"dehumidifier","mode":"sideways"}`))

	assert.Empty(t, sup.calls, "parse failures stop before the supervisor")
}

func TestHandleCommand_SupervisorErrorIsAbsorbed(t *testing.T) {
	sup := &fakeSupervisor{err: errors.New("already running")}
	p := newCommandPublisher(sup)

	p.handleCommand([]byte(`{"action":"start"}`))

	assert.Len(t, sup.calls, 1, "the rejection is logged, not fatal")
}
