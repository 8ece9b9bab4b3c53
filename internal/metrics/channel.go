package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

// Peer exchange results used as the "result" label.
const (
	ResultOK            = "ok"
	ResultPeerError     = "peer_error"
	ResultMalformed     = "malformed"
	ResultCommunication = "communication_error"
)

// Channel wraps a peer.Channel and records every exchange.
type Channel struct {
	next    peer.Channel
	metrics *Metrics
}

func NewChannel(next peer.Channel, m *Metrics) *Channel {
	return &Channel{next: next, metrics: m}
}

func (c *Channel) Exchange(ctx context.Context, ep model.PeerEndpoint, command string) (peer.Reply, error) {
	start := time.Now()
	reply, err := c.next.Exchange(ctx, ep, command)
	c.metrics.ObservePeer(peer.Verb(command), ep.Index, classify(reply, err), time.Since(start))
	return reply, err
}

func classify(reply peer.Reply, err error) string {
	var pe *peer.ProtocolError
	switch {
	case err == nil && reply.OK():
		return ResultOK
	case err == nil:
		return ResultPeerError
	case errors.As(err, &pe):
		return ResultMalformed
	default:
		return ResultCommunication
	}
}
