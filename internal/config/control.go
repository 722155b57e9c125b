package config

// ControlConfig holds the rule thresholds of the control engine. Levels are
// percent, pressures PSI, flow litres per minute.
//
// Pump 1 switches on below Pump1OnBelow and off above HighLevel. Valve 1
// opens above HighLevel and closes below HighLevel-Valve1CloseMargin. The
// bands are intentionally asymmetric.
type ControlConfig struct {
	Pump1OnBelow       float64 `yaml:"pump1_on_below" env-default:"20"`
	HighLevel          float64 `yaml:"high_level" env-default:"95"`
	Valve1CloseMargin  float64 `yaml:"valve1_close_margin" env-default:"5"`
	LowAlarmBelow      float64 `yaml:"low_alarm_below" env-default:"10"`
	HighAlarmAbove     float64 `yaml:"high_alarm_above" env-default:"98"`
	FaultPressureRatio float64 `yaml:"fault_pressure_ratio" env-default:"0.7"`
	FaultMinFlow       float64 `yaml:"fault_min_flow" env-default:"1.0"`
}

func DefaultControl() ControlConfig {
	return ControlConfig{
		Pump1OnBelow:       20,
		HighLevel:          95,
		Valve1CloseMargin:  5,
		LowAlarmBelow:      10,
		HighAlarmAbove:     98,
		FaultPressureRatio: 0.7,
		FaultMinFlow:       1.0,
	}
}

func (c ControlConfig) Valve1CloseBelow() float64 {
	return c.HighLevel - c.Valve1CloseMargin
}
