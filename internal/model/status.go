package model

import (
	"encoding/json"
	"time"
)

const (
	StateOn  = "ON"
	StateOff = "OFF"
)

type StatusResponse struct {
	WaterLevelPercent   float64 `json:"water_level_percent"`
	PressurePSI         float64 `json:"pressure_psi"`
	FlowRateLPM         float64 `json:"flow_rate_lpm"`
	Pump1Status         int     `json:"pump1_status"`
	Pump2Status         int     `json:"pump2_status"`
	Valve1Status        int     `json:"valve1_status"`
	Valve2Status        int     `json:"valve2_status"`
	GeneralAlarm        string  `json:"general_alarm"`
	LastUpdated         float64 `json:"last_updated"`
	DesiredStateP2V2    string  `json:"desired_state_P2_V2"`
	LinkConnected       bool    `json:"link_connected"`
	PreviousPressurePSI float64 `json:"previous_pressure_psi"`
	LastFault           *Fault  `json:"last_fault,omitempty"`
}

type ControlRequest struct {
	State *string `json:"state"`
}

type ControlResponse struct {
	Message          string `json:"message"`
	DesiredStateP2V2 string `json:"desired_state_P2_V2"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewStatusResponse(s Snapshot) StatusResponse {
	r := s.Reading
	return StatusResponse{
		WaterLevelPercent:   r.WaterLevelPercent,
		PressurePSI:         r.PressurePSI,
		FlowRateLPM:         r.FlowRateLPM,
		Pump1Status:         flag(r.Pump1On),
		Pump2Status:         flag(r.Pump2On),
		Valve1Status:        flag(r.Valve1Open),
		Valve2Status:        flag(r.Valve2Open),
		GeneralAlarm:        s.AlarmText,
		LastUpdated:         epochSeconds(s.LastUpdated),
		DesiredStateP2V2:    OnOff(s.Intent),
		LinkConnected:       s.LinkConnected,
		PreviousPressurePSI: s.PreviousPressurePSI,
		LastFault:           s.LastFault,
	}
}

func (r StatusResponse) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func OnOff(on bool) string {
	if on {
		return StateOn
	}
	return StateOff
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
