package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drydenhq/dryden/internal/control"
	"github.com/drydenhq/dryden/internal/hardware"
)

const commandTimeout = 10 * time.Second

// Supervisor is the operator command surface the bridge drives. Commands
// arriving over MQTT go through these methods only; the bridge never
// touches hardware or run state itself. control.Controller satisfies it.
type Supervisor interface {
	Start(ctx context.Context, resumeFromEmergency bool) error
	Stop(ctx context.Context) error
	Hold() error
	Resume() error
	EmergencyStop(ctx context.Context) error
	SetControlMode(ctx context.Context, id hardware.EquipmentID, mode control.ControlMode) error
}

// Command is the JSON payload accepted on the command topic.
//
//	{"action": "start"}
//	{"action": "set_mode", "equipment": "dehumidifier", "mode": "forced_off"}
type Command struct {
	Action    string `json:"action"`
	Equipment string `json:"equipment,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

func (p *Publisher) subscribeCommands(c mqtt.Client) {
	topic := p.topic("command")
	tok := c.Subscribe(topic, commandQoS, func(_ mqtt.Client, msg mqtt.Message) {
		p.handleCommand(msg.Payload())
	})
	if !tok.WaitTimeout(connectTimeout) || tok.Error() != nil {
		p.log.Error("command subscribe failed", "topic", topic, "error", tok.Error())
		return
	}
	p.log.Info("command topic subscribed", "topic", topic)
}

// handleCommand runs one operator command. Rejections are logged, never
// published back: the next retained status frame reflects whatever the
// command did or did not change.
func (p *Publisher) handleCommand(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		p.log.Warn("malformed command payload", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := p.dispatch(ctx, cmd); err != nil {
		p.log.Warn("command rejected", "action", cmd.Action, "error", err)
		return
	}
	p.log.Info("command executed", "action", cmd.Action,
		"equipment", cmd.Equipment, "mode", cmd.Mode)
}

func (p *Publisher) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case "start":
		return p.sup.Start(ctx, false)
	case "resume_emergency":
		return p.sup.Start(ctx, true)
	case "stop":
		return p.sup.Stop(ctx)
	case "hold":
		return p.sup.Hold()
	case "resume":
		return p.sup.Resume()
	case "emergency_stop":
		return p.sup.EmergencyStop(ctx)
	case "set_mode":
		id, err := hardware.ParseEquipmentID(cmd.Equipment)
		if err != nil {
			return err
		}
		mode, err := control.ParseControlMode(cmd.Mode)
		if err != nil {
			return err
		}
		return p.sup.SetControlMode(ctx, id, mode)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}
