// Package peer implements the line-based request/response exchange with a C layer process.
//
// A request is a single line "<verb> [args...]". A reply is a single line
// "<status code> <payload...>"; status code 0 means success and the payload carries the
// command's data, any other code means failure and the payload is a human-readable error.
package peer

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyOK is the status code of a successful reply.
const ReplyOK = 0

const (
	CommandAbort        = "abort"
	CommandMultrunSetup = "multrun_setup"
	CommandShutdown     = "shutdown"
)

func ConfigBin(bin int) string {
	return fmt.Sprintf("config bin %d", bin)
}

func ConfigFilter(name string) string {
	return "config filter " + name
}

func ConfigRotorspeed(speed string) string {
	return "config rotorspeed " + speed
}

func Multrun(exposureLengthMs, exposureCount int, standard bool) string {
	return fmt.Sprintf("multrun %d %d %t", exposureLengthMs, exposureCount, standard)
}

func Multdark(exposureLengthMs, exposureCount int) string {
	return fmt.Sprintf("multdark %d %d", exposureLengthMs, exposureCount)
}

func Multbias(exposureCount int) string {
	return fmt.Sprintf("multbias %d", exposureCount)
}

// Status builds a "status <subsystem> <item>" query, e.g. Status("rotator", "position").
func Status(subsystem, item string) string {
	return "status " + subsystem + " " + item
}

// Verb returns the leading word of a command line.
func Verb(command string) string {
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i]
	}
	return command
}

// Reply is one parsed reply line.
type Reply struct {
	Code    int
	Payload string
}

func (r Reply) OK() bool {
	return r.Code == ReplyOK
}

// ParseReply splits a reply line into its status code and payload.
func ParseReply(line string) (Reply, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reply{}, fmt.Errorf("empty reply")
	}
	codeStr, payload, _ := strings.Cut(line, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return Reply{}, fmt.Errorf("reply status %q is not an integer", codeStr)
	}
	return Reply{Code: code, Payload: strings.TrimSpace(payload)}, nil
}

// ExposureReply is the payload of a successful multrun, multdark or multbias:
// "<filename count> <multrun number> <last filename>".
type ExposureReply struct {
	FilenameCount int
	MultrunNumber int
	LastFilename  string
}

// NoFilename is sent by a C layer in place of the last filename when it wrote none.
const NoFilename = "none"

func ParseExposureReply(payload string) (ExposureReply, error) {
	fields := strings.Fields(payload)
	if len(fields) < 3 {
		return ExposureReply{}, fmt.Errorf("expected 3 fields, got %d in %q", len(fields), payload)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return ExposureReply{}, fmt.Errorf("filename count %q: %w", fields[0], err)
	}
	number, err := strconv.Atoi(fields[1])
	if err != nil {
		return ExposureReply{}, fmt.Errorf("multrun number %q: %w", fields[1], err)
	}
	r := ExposureReply{FilenameCount: count, MultrunNumber: number, LastFilename: fields[2]}
	if r.LastFilename == NoFilename {
		r.LastFilename = ""
	}
	return r, nil
}

func ParseInt(payload string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(payload))
}

func ParseFloat(payload string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(payload), 64)
}

func ParseBool(payload string) (bool, error) {
	switch strings.TrimSpace(payload) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("failed to parse boolean data: %q", payload)
	}
}

// TemperatureReply is the payload of "status temperature get": "<timestamp...> <degrees C>".
type TemperatureReply struct {
	Timestamp string
	Celsius   float64
}

func ParseTemperatureReply(payload string) (TemperatureReply, error) {
	payload = strings.TrimSpace(payload)
	i := strings.LastIndexByte(payload, ' ')
	if i < 0 {
		return TemperatureReply{}, fmt.Errorf("expected timestamp and temperature in %q", payload)
	}
	c, err := strconv.ParseFloat(payload[i+1:], 64)
	if err != nil {
		return TemperatureReply{}, fmt.Errorf("temperature %q: %w", payload[i+1:], err)
	}
	return TemperatureReply{Timestamp: payload[:i], Celsius: c}, nil
}
