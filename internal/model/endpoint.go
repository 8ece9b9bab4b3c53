package model

import (
	"net"
	"strconv"
)

// PeerEndpoint addresses one C layer. Index is stable for the lifetime of a
// configuration load.
type PeerEndpoint struct {
	Index int    `json:"index" yaml:"index"`
	Host  string `json:"host" yaml:"host"`
	Port  int    `json:"port" yaml:"port"`
}

func (e PeerEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e PeerEndpoint) String() string {
	return "peer " + strconv.Itoa(e.Index) + " (" + e.Address() + ")"
}
