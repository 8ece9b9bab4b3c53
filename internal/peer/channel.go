package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/LivTel/moptop/internal/model"
)

// Channel performs one blocking request/response exchange with a peer.
// Implementations never retry.
type Channel interface {
	Exchange(ctx context.Context, ep model.PeerEndpoint, command string) (Reply, error)
}

// maxReplyBytes bounds a single reply line.
const maxReplyBytes = 64 * 1024

// TCPChannel opens a new connection per exchange: dial, write the command line,
// read one reply line, close.
type TCPChannel struct {
	timeout time.Duration
	dialer  net.Dialer
}

func NewTCPChannel(timeout time.Duration) *TCPChannel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TCPChannel{
		timeout: timeout,
		dialer:  net.Dialer{Timeout: timeout},
	}
}

func (c *TCPChannel) Exchange(ctx context.Context, ep model.PeerEndpoint, command string) (Reply, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return Reply{}, &CommunicationError{Endpoint: ep, Command: command, Err: err}
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return Reply{}, &CommunicationError{Endpoint: ep, Command: command, Err: fmt.Errorf("write: %w", err)}
	}

	line, err := readLine(bufio.NewReaderSize(conn, 4096))
	if err != nil {
		return Reply{}, &CommunicationError{Endpoint: ep, Command: command, Err: fmt.Errorf("read: %w", err)}
	}

	reply, err := ParseReply(line)
	if err != nil {
		return Reply{}, &ProtocolError{Endpoint: ep, Command: command, Code: ParseFailure, Message: err.Error()}
	}
	return reply, nil
}

// readLine reads up to the first newline. A peer that closes the connection after
// writing an unterminated reply is accepted.
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadSlice('\n')
		sb.Write(chunk)
		if sb.Len() > maxReplyBytes {
			return "", fmt.Errorf("reply exceeds %d bytes", maxReplyBytes)
		}
		switch {
		case err == nil:
			return strings.TrimRight(sb.String(), "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && sb.Len() > 0:
			return strings.TrimRight(sb.String(), "\r\n"), nil
		default:
			return "", err
		}
	}
}

// Call exchanges a command and classifies the reply: the payload is returned when the
// status code is ReplyOK, otherwise a *ProtocolError carrying code and error text.
func Call(ctx context.Context, ch Channel, ep model.PeerEndpoint, command string) (string, error) {
	reply, err := ch.Exchange(ctx, ep, command)
	if err != nil {
		return "", err
	}
	if !reply.OK() {
		return "", &ProtocolError{Endpoint: ep, Command: command, Code: reply.Code, Message: reply.Payload}
	}
	return reply.Payload, nil
}

// ParsePayload wraps a payload parse failure as a *ProtocolError for the endpoint.
func ParsePayload[T any](ep model.PeerEndpoint, command, payload string, parse func(string) (T, error)) (T, error) {
	v, err := parse(payload)
	if err != nil {
		var zero T
		return zero, &ProtocolError{Endpoint: ep, Command: command, Code: ParseFailure, Message: err.Error()}
	}
	return v, nil
}
