package model

import "time"

// Reading is one decoded telemetry frame. It is never mutated after decode.
type Reading struct {
	WaterLevelPercent float64
	PressurePSI       float64
	FlowRateLPM       float64
	Pump1On           bool
	Pump2On           bool
	Valve1Open        bool
	Valve2Open        bool
	CapturedAt        time.Time
}

// Snapshot is an independent copy of the state store record.
type Snapshot struct {
	Reading             Reading
	PreviousPressurePSI float64
	AlarmText           string
	LinkConnected       bool
	LastUpdated         time.Time
	Intent              bool
	LastFault           *Fault
}

// HasReading reports whether at least one frame has been applied.
func (s Snapshot) HasReading() bool {
	return !s.LastUpdated.IsZero()
}

// Fault describes one pressure-drop trip of the irrigation branch.
type Fault struct {
	ID                  string    `json:"id"`
	DetectedAt          time.Time `json:"detected_at"`
	PreviousPressurePSI float64   `json:"previous_pressure_psi"`
	PressurePSI         float64   `json:"pressure_psi"`
	FlowRateLPM         float64   `json:"flow_rate_lpm"`
}
