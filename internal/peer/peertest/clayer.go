package peertest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// CLayer simulates the state a C layer keeps across commands: the multrun number,
// the configured binning, filter and rotor speed, and an abort counter.
type CLayer struct {
	mu sync.Mutex

	Prefix        string
	MultrunNumber int
	Bin           int
	Filter        string
	RotorSpeed    string
	Aborts        int
	ShutdownSeen  bool

	// Fail maps a verb to a failure reply returned instead of the simulated one.
	Fail map[string]string
}

func NewCLayer(prefix string, multrunNumber int) *CLayer {
	return &CLayer{Prefix: prefix, MultrunNumber: multrunNumber, Bin: 1, RotorSpeed: "slow", Fail: map[string]string{}}
}

func (c *CLayer) Handle(command string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "1 Empty command."
	}
	if r, ok := c.Fail[fields[0]]; ok {
		return r
	}
	switch fields[0] {
	case "multrun_setup":
		c.MultrunNumber++
		return fmt.Sprintf("0 %d", c.MultrunNumber)
	case "multrun", "multdark", "multbias":
		count := 1
		if len(fields) >= 3 && fields[0] != "multbias" {
			count, _ = strconv.Atoi(fields[2])
		} else if len(fields) >= 2 && fields[0] == "multbias" {
			count, _ = strconv.Atoi(fields[1])
		}
		if fields[0] != "multrun" {
			c.MultrunNumber++
		}
		return fmt.Sprintf("0 %d %d %s_%d_%d.fits", count, c.MultrunNumber, c.Prefix, c.MultrunNumber, count)
	case "config":
		if len(fields) < 3 {
			return "1 Failed to parse config command."
		}
		switch fields[1] {
		case "bin":
			c.Bin, _ = strconv.Atoi(fields[2])
		case "filter":
			c.Filter = fields[2]
		case "rotorspeed":
			c.RotorSpeed = fields[2]
		default:
			return "1 Unknown config command."
		}
		return "0 Config command succeeded."
	case "abort":
		c.Aborts++
		return "0 Abort succeeded."
	case "shutdown":
		c.ShutdownSeen = true
		return "0 Shutdown succeeded."
	case "status":
		return c.status(fields[1:])
	}
	return "1 Unknown command."
}

func (c *CLayer) status(args []string) string {
	if len(args) < 2 {
		return "1 Failed to parse status command."
	}
	switch args[0] + " " + args[1] {
	case "exposure status":
		return "0 false"
	case "exposure count", "exposure index", "exposure run", "exposure window":
		return "0 0"
	case "exposure length":
		return "0 1000"
	case "exposure multrun":
		return fmt.Sprintf("0 %d", c.MultrunNumber)
	case "temperature get":
		return "0 2026-10-19T12:00:00.000 UTC -20.50"
	case "rotator position":
		return "0 12.50"
	case "rotator speed":
		return "0 " + c.RotorSpeed
	case "rotator status":
		return "0 stopped"
	case "filterwheel filter":
		return "0 " + c.Filter
	case "filterwheel position":
		return "0 1"
	case "filterwheel status":
		return "0 in_position"
	}
	return "1 Failed to parse status command."
}

func (c *CLayer) State() (multrun int, bin int, filter, rotorSpeed string, aborts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.MultrunNumber, c.Bin, c.Filter, c.RotorSpeed, c.Aborts
}

func (c *CLayer) SawShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ShutdownSeen
}

// SetFail makes the layer answer verb with reply until cleared with an empty reply.
func (c *CLayer) SetFail(verb, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reply == "" {
		delete(c.Fail, verb)
		return
	}
	c.Fail[verb] = reply
}
