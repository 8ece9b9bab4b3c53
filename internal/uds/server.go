package uds

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/LivTel/moptop/internal/logging"
)

// AckFunc sends an acknowledge frame to the client and extends the connection
// deadline to cover the announced time.
type AckFunc func(timeToComplete time.Duration) error

type HandlerFunc func(ctx context.Context, req *Request, ack AckFunc) *Response

type Server struct {
	socketPath  string
	listener    net.Listener
	handlers    map[string]HandlerFunc
	mu          sync.RWMutex
	connTimeout time.Duration
	logger      *logging.Logger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewServer(socketPath string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		handlers:    make(map[string]HandlerFunc),
		connTimeout: 30 * time.Second,
		logger:      logger.With("uds"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

func (s *Server) Start() error {
	// Remove stale socket file
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, cancels the context handed to running handlers and
// waits for them to write their final frame.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Log(logging.LevelWarn, "accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Log(logging.LevelError, "panic in handleConn: %v\n%s", r, debug.Stack())
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Log(logging.LevelDebug, "read request error: %v", err)
		return
	}

	ack := func(timeToComplete time.Duration) error {
		_ = conn.SetDeadline(time.Now().Add(timeToComplete + s.connTimeout))
		return WriteFrame(conn, AckResponse(timeToComplete))
	}
	resp := s.processRequest(&req, ack)
	resp.Type = FrameDone

	_ = conn.SetWriteDeadline(time.Now().Add(s.connTimeout))
	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Log(logging.LevelWarn, "write response for %s: %v", req.Command, err)
	}
}

func (s *Server) processRequest(req *Request, ack AckFunc) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()

	if !ok {
		return ErrorResponse(
			ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %q", req.Command),
		)
	}

	resp := handler(s.ctx, req, ack)
	if resp == nil {
		return ErrorResponse(ErrCodeInternal, fmt.Sprintf("command %q produced no response", req.Command))
	}
	return resp
}
