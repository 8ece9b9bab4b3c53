// Package uds carries instrument commands between the moptop CLI and daemon over a
// Unix domain socket. Each connection holds one request, answered by zero or more
// acknowledge frames followed by a single done frame.
package uds

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

const ProtocolVersion = 1

// maxFrameSize bounds a single frame payload.
const maxFrameSize = 10 * 1024 * 1024

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Frame types. An ack announces how long the command is expected to take; done
// carries the outcome.
const (
	FrameAck  = "ack"
	FrameDone = "done"
)

type Response struct {
	Type             string          `json:"type"`
	TimeToCompleteMs int64           `json:"time_to_complete_ms,omitempty"`
	Success          bool            `json:"success"`
	Data             json.RawMessage `json:"data,omitempty"`
	Error            *ErrorDetail    `json:"error,omitempty"`
}

// TimeToComplete is the duration announced by an ack frame.
func (r *Response) TimeToComplete() time.Duration {
	return time.Duration(r.TimeToCompleteMs) * time.Millisecond
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand   = "UNKNOWN_COMMAND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
)

func NewRequest(command string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

func AckResponse(timeToComplete time.Duration) *Response {
	return &Response{Type: FrameAck, Success: true, TimeToCompleteMs: timeToComplete.Milliseconds()}
}

// ResultResponse is a done frame whose success follows the command outcome rather
// than the transport.
func ResultResponse(success bool, data any) *Response {
	resp := &Response{Type: FrameDone, Success: success}
	if data != nil {
		raw, _ := json.Marshal(data)
		resp.Data = raw
	}
	return resp
}

func SuccessResponse(data any) *Response {
	return ResultResponse(true, data)
}

func ErrorResponse(code, message string) *Response {
	return &Response{
		Type:    FrameDone,
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// DefaultSocketName is the conventional socket filename inside the daemon state directory.
const DefaultSocketName = "moptop.sock"

// WriteFrame writes a length-prefixed JSON frame to the connection.
// Format: [4-byte BigEndian length][JSON payload]
func WriteFrame(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	length := uint32(len(data))
	if err := binary.Write(conn, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := io.Copy(conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed JSON frame from the connection.
func ReadFrame(conn net.Conn, v any) error {
	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}

	if length > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}

	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
