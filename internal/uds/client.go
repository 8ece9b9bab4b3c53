package uds

import (
	"fmt"
	"net"
	"time"
)

type Client struct {
	socketPath string
	timeout    time.Duration
	onAck      func(time.Duration)
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

// SetTimeout sets the time allowed for each frame beyond any announced time-to-complete.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// OnAck registers a callback invoked with the time-to-complete of each ack frame.
func (c *Client) OnAck(fn func(time.Duration)) {
	c.onAck = fn
}

// Send writes req and reads frames until the done frame arrives. Each ack frame
// pushes the read deadline out by the time it announces.
func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to daemon at %s: %w\n"+
				"Is the daemon running? Start it with: moptop daemon",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	for {
		var resp Response
		if err := ReadFrame(conn, &resp); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.Type != FrameAck {
			return &resp, nil
		}
		_ = conn.SetDeadline(time.Now().Add(resp.TimeToComplete() + c.timeout))
		if c.onAck != nil {
			c.onAck(resp.TimeToComplete())
		}
	}
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}
