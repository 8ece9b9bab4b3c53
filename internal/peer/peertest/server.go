// Package peertest provides a scriptable fake C layer for tests. It speaks the same
// one-line-per-connection protocol as the real peer processes over loopback TCP.
package peertest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LivTel/moptop/internal/model"
)

// Handler produces the reply line for one received command line.
type Handler func(command string) string

type Server struct {
	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	received []string
	delays   map[string]time.Duration

	wg sync.WaitGroup
}

// NewServer starts a fake peer on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("peertest listen: %v", err)
	}
	s := &Server{
		listener: l,
		handler:  handler,
		delays:   make(map[string]time.Duration),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Delay makes the server wait d before replying to commands with the given verb.
func (s *Server) Delay(verb string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[verb] = d
}

// Received returns the command lines received so far, in arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) Endpoint(index int) model.PeerEndpoint {
	return model.PeerEndpoint{Index: index, Host: "127.0.0.1", Port: s.Port()}
}

func (s *Server) PeerConfig(roles ...string) model.PeerConfig {
	return model.PeerConfig{Host: "127.0.0.1", Port: s.Port(), Roles: roles}
}

func (s *Server) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	command := strings.TrimRight(line, "\r\n")
	verb, _, _ := strings.Cut(command, " ")

	s.mu.Lock()
	s.received = append(s.received, command)
	delay := s.delays[verb]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	reply := s.handler(command)
	_, _ = conn.Write([]byte(reply + "\n"))
}

// Static replies from a verb-keyed table; unknown verbs get "1 Unknown command.".
func Static(replies map[string]string) Handler {
	return func(command string) string {
		if r, ok := replies[command]; ok {
			return r
		}
		verb, _, _ := strings.Cut(command, " ")
		if r, ok := replies[verb]; ok {
			return r
		}
		return "1 Unknown command."
	}
}
