package peer

import (
	"fmt"

	"github.com/LivTel/moptop/internal/model"
)

// CommunicationError is a connection, write or read failure talking to one peer.
type CommunicationError struct {
	Endpoint model.PeerEndpoint
	Command  string
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s: %s: communication failed: %v", e.Endpoint, Verb(e.Command), e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// ParseFailure is the ProtocolError code used when a reply or its payload could not be parsed.
const ParseFailure = -1

// ProtocolError is a peer reply carrying a failure status, or a reply that could not be parsed.
type ProtocolError struct {
	Endpoint model.PeerEndpoint
	Command  string
	Code     int
	Message  string
}

func (e *ProtocolError) Error() string {
	if e.Code == ParseFailure {
		return fmt.Sprintf("%s: %s: malformed reply: %s", e.Endpoint, Verb(e.Command), e.Message)
	}
	return fmt.Sprintf("%s: %s failed with return code %d and error string: %s",
		e.Endpoint, Verb(e.Command), e.Code, e.Message)
}
