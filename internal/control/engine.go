// Package control derives actuator commands and alarm text from the latest
// snapshot. Evaluate is pure; Engine.Run performs the side effects.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/speedwagon-io/tankgate/internal/config"
	"github.com/speedwagon-io/tankgate/internal/lib/logger/sl"
	"github.com/speedwagon-io/tankgate/internal/link"
	"github.com/speedwagon-io/tankgate/internal/model"
	"github.com/speedwagon-io/tankgate/internal/state"
)

// Commander sends one actuator command to the device.
type Commander interface {
	SendCommand(cmd model.Command) error
}

// Store is the part of state.Store the engine uses.
type Store interface {
	Snapshot() model.Snapshot
	SetAlarm(text string)
	ClearIntent(ctx context.Context) error
	RecordFault(ctx context.Context, f model.Fault) error
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Commands []model.Command
	Alarm    string
	Fault    *model.Fault
}

type Engine struct {
	log *slog.Logger
	cfg config.ControlConfig
	now func() time.Time
}

func NewEngine(log *slog.Logger, cfg config.ControlConfig) *Engine {
	return &Engine{
		log: log.With(slog.String("component", "control")),
		cfg: cfg,
		now: time.Now,
	}
}

// Evaluate applies the rules in order: pump 1, valve 1, the user-controlled
// pump 2 / valve 2 pair, level alarms, then pressure-drop fault detection.
// A fault replaces the alarm text and appends forced P2OFF and V2OFF.
func (e *Engine) Evaluate(snap model.Snapshot, intent bool) Decision {
	r := snap.Reading
	c := e.cfg
	var cmds []model.Command

	if r.WaterLevelPercent < c.Pump1OnBelow && !r.Pump1On {
		cmds = append(cmds, model.CmdPump1On)
	} else if r.WaterLevelPercent > c.HighLevel && r.Pump1On {
		cmds = append(cmds, model.CmdPump1Off)
	}

	if r.WaterLevelPercent > c.HighLevel && !r.Valve1Open {
		cmds = append(cmds, model.CmdValve1On)
	} else if r.WaterLevelPercent < c.Valve1CloseBelow() && r.Valve1Open {
		cmds = append(cmds, model.CmdValve1Off)
	}

	if intent {
		if !r.Pump2On {
			cmds = append(cmds, model.CmdPump2On)
		}
		if !r.Valve2Open {
			cmds = append(cmds, model.CmdValve2On)
		}
	} else {
		if r.Pump2On {
			cmds = append(cmds, model.CmdPump2Off)
		}
		if r.Valve2Open {
			cmds = append(cmds, model.CmdValve2Off)
		}
	}

	alarm := state.AlarmNone
	switch {
	case r.WaterLevelPercent < c.LowAlarmBelow:
		alarm = fmt.Sprintf("LOW WATER LEVEL: %.1f%%", r.WaterLevelPercent)
	case r.WaterLevelPercent > c.HighAlarmAbove:
		alarm = fmt.Sprintf("HIGH WATER LEVEL: %.1f%%", r.WaterLevelPercent)
	}

	d := Decision{Commands: cmds, Alarm: alarm}

	if r.Pump2On &&
		r.PressurePSI < snap.PreviousPressurePSI*c.FaultPressureRatio &&
		r.FlowRateLPM > c.FaultMinFlow {
		d.Alarm = fmt.Sprintf("FAULT: possible leak, pressure dropped from %.2f to %.2f PSI with flow %.2f LPM",
			snap.PreviousPressurePSI, r.PressurePSI, r.FlowRateLPM)
		d.Commands = append(d.Commands, model.CmdPump2Off, model.CmdValve2Off)
		d.Fault = &model.Fault{
			ID:                  uuid.New().String(),
			DetectedAt:          e.now().UTC(),
			PreviousPressurePSI: snap.PreviousPressurePSI,
			PressurePSI:         r.PressurePSI,
			FlowRateLPM:         r.FlowRateLPM,
		}
	}

	return d
}

// Run evaluates the current snapshot and applies the decision. Sends stop
// at the first link write error; the caller must then treat the link as
// lost. The alarm and any fault reaction are applied regardless.
func (e *Engine) Run(ctx context.Context, store Store, cmd Commander) (Decision, error) {
	snap := store.Snapshot()
	d := e.Evaluate(snap, snap.Intent)

	if d.Fault != nil {
		e.log.Warn("pressure drop fault detected",
			slog.String("fault_id", d.Fault.ID),
			slog.Float64("previous_psi", d.Fault.PreviousPressurePSI),
			slog.Float64("current_psi", d.Fault.PressurePSI),
			slog.Float64("flow_lpm", d.Fault.FlowRateLPM),
		)
		if err := store.ClearIntent(ctx); err != nil {
			e.log.Error("failed to persist cleared intent", sl.Err(err))
		}
		if err := store.RecordFault(ctx, *d.Fault); err != nil {
			e.log.Error("failed to persist fault", sl.Err(err))
		}
	}

	store.SetAlarm(d.Alarm)

	for _, c := range d.Commands {
		if err := cmd.SendCommand(c); err != nil {
			if errors.Is(err, link.ErrLinkWrite) {
				return d, err
			}
			e.log.Error("failed to send command", slog.String("command", string(c)), sl.Err(err))
		}
	}

	return d, nil
}
