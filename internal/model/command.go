package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CommandKind names an instrument command received from the observatory control system.
type CommandKind string

const (
	CommandConfig    CommandKind = "config"
	CommandMultrun   CommandKind = "multrun"
	CommandMultdark  CommandKind = "multdark"
	CommandMultbias  CommandKind = "multbias"
	CommandDark      CommandKind = "dark"
	CommandBias      CommandKind = "bias"
	CommandAbort     CommandKind = "abort"
	CommandGetStatus CommandKind = "get_status"
	CommandReboot    CommandKind = "reboot"
)

var CommandKinds = []CommandKind{
	CommandConfig, CommandMultrun, CommandMultdark, CommandMultbias,
	CommandDark, CommandBias, CommandAbort, CommandGetStatus, CommandReboot,
}

// Interrupt reports whether the command may run alongside another command.
// Interrupt commands never arm or reset the abort signal.
func (k CommandKind) Interrupt() bool {
	return k == CommandAbort || k == CommandGetStatus
}

func (k CommandKind) Valid() bool {
	for _, c := range CommandKinds {
		if c == k {
			return true
		}
	}
	return false
}

func (k CommandKind) Upper() string {
	return strings.ToUpper(string(k))
}

type ConfigParams struct {
	Name       string `json:"name"`
	XBin       int    `json:"x_bin"`
	YBin       int    `json:"y_bin"`
	FilterName string `json:"filter_name"`
	RotorSpeed string `json:"rotor_speed"`
}

const (
	RotorSpeedSlow = "slow"
	RotorSpeedFast = "fast"
)

type MultrunParams struct {
	ExposureLengthMs int  `json:"exposure_length_ms"`
	ExposureCount    int  `json:"exposure_count"`
	Standard         bool `json:"standard"`
}

type MultdarkParams struct {
	ExposureLengthMs int `json:"exposure_length_ms"`
	ExposureCount    int `json:"exposure_count"`
}

type MultbiasParams struct {
	ExposureCount int `json:"exposure_count"`
}

type DarkParams struct {
	ExposureLengthMs int `json:"exposure_length_ms"`
}

type BiasParams struct{}

type AbortParams struct{}

type StatusLevel int

const (
	StatusLevelBasic StatusLevel = iota
	StatusLevelIntermediate
	StatusLevelFull
)

type GetStatusParams struct {
	Level StatusLevel `json:"level"`
}

type RebootLevel int

const (
	RebootNone RebootLevel = iota
	RebootRedatum
	RebootSoftware
	RebootHardware
	RebootPowerOff
)

var rebootLevelNames = []string{"NONE", "REDATUM", "SOFTWARE", "HARDWARE", "POWER_OFF"}

func (l RebootLevel) String() string {
	if l < 0 || int(l) >= len(rebootLevelNames) {
		return "UNKNOWN"
	}
	return rebootLevelNames[l]
}

func (l RebootLevel) Valid() bool {
	return l >= RebootNone && l <= RebootPowerOff
}

func ParseRebootLevel(s string) (RebootLevel, bool) {
	for i, n := range rebootLevelNames {
		if strings.EqualFold(n, s) {
			return RebootLevel(i), true
		}
	}
	return RebootNone, false
}

type RebootParams struct {
	Level RebootLevel `json:"level"`
}

// UnmarshalJSON accepts a level number or a level name such as "SOFTWARE".
func (l *RebootLevel) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = RebootLevel(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("reboot level must be a number or a name: %s", data)
	}
	level, ok := ParseRebootLevel(s)
	if !ok {
		return fmt.Errorf("unknown reboot level %q", s)
	}
	*l = level
	return nil
}
