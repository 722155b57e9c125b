package model

// Command is one of the literal actuator tokens understood by the firmware.
type Command string

const (
	CmdPump1On   Command = "P1ON"
	CmdPump1Off  Command = "P1OFF"
	CmdPump2On   Command = "P2ON"
	CmdPump2Off  Command = "P2OFF"
	CmdValve1On  Command = "V1ON"
	CmdValve1Off Command = "V1OFF"
	CmdValve2On  Command = "V2ON"
	CmdValve2Off Command = "V2OFF"
)

func (c Command) Valid() bool {
	switch c {
	case CmdPump1On, CmdPump1Off, CmdPump2On, CmdPump2Off,
		CmdValve1On, CmdValve1Off, CmdValve2On, CmdValve2Off:
		return true
	}
	return false
}
