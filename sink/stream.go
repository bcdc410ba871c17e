package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xtaci/smux"

	"dualpath/flowrule"
	"dualpath/topology"
)

type StreamConfig struct {
	Addr         string        `toml:"addr"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ApplyTimeout time.Duration `toml:"apply_timeout"`
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Addr:         "127.0.0.1:6650",
		DialTimeout:  5 * time.Second,
		ApplyTimeout: 10 * time.Second,
	}
}

func DefaultSmuxConfig() *smux.Config {
	return &smux.Config{
		Version:           1,
		KeepAliveInterval: 5 * time.Second,
		KeepAliveTimeout:  30 * time.Second,
		MaxFrameSize:      65535,
		MaxReceiveBuffer:  4194304,
		MaxStreamBuffer:   131072,
	}
}

type streamRequest struct {
	Op   string            `json:"op"`
	Node topology.NodeID   `json:"node"`
	Rule flowrule.FlowRule `json:"rule"`
}

type streamResponse struct {
	Error string `json:"error,omitempty"`
}

// Stream sends rules to a StreamServer over one multiplexed connection,
// one stream per rule. Apply returns after the server answered or after
// ApplyTimeout, whichever comes first.
type Stream struct {
	session      *smux.Session
	applyTimeout time.Duration
}

func DialStream(config StreamConfig) (*Stream, error) {
	conn, err := net.DialTimeout("tcp", config.Addr, config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.Addr, err)
	}
	session, err := smux.Client(conn, DefaultSmuxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMUX: %w", err)
	}
	log.Infof("SMUX, targetAddr=%s", config.Addr)
	return NewStream(session, config.ApplyTimeout), nil
}

// NewStream wraps an established client session. A non-positive
// applyTimeout uses the default.
func NewStream(session *smux.Session, applyTimeout time.Duration) *Stream {
	if applyTimeout <= 0 {
		applyTimeout = DefaultStreamConfig().ApplyTimeout
	}
	return &Stream{session: session, applyTimeout: applyTimeout}
}

func (s *Stream) Close() error {
	return s.session.Close()
}

func (s *Stream) Apply(ctx context.Context, rule flowrule.FlowRule) error {
	return s.call(ctx, streamRequest{Op: OpAddFlow, Node: rule.Node, Rule: rule})
}

func (s *Stream) Clear(ctx context.Context, node topology.NodeID) error {
	return s.call(ctx, streamRequest{Op: OpDelFlows, Node: node})
}

func (s *Stream) call(ctx context.Context, req streamRequest) error {
	ctx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	stream, err := s.session.OpenStream()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	deadline, _ := ctx.Deadline()
	stream.SetDeadline(deadline)

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return fmt.Errorf("send %s to %s: %w", req.Op, req.Node, err)
	}
	var resp streamResponse
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return fmt.Errorf("read reply for %s on %s: %w", req.Op, req.Node, err)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// StreamServer accepts rules from Stream clients and applies them to a
// local sink. Applies are serialized.
type StreamServer struct {
	local RuleSink
	mu    sync.Mutex

	sessionsMu sync.Mutex
	sessions   map[*smux.Session]struct{}
}

func NewStreamServer(local RuleSink) *StreamServer {
	return &StreamServer{
		local:    local,
		sessions: make(map[*smux.Session]struct{}),
	}
}

// Close closes every session currently served.
func (s *StreamServer) Close() error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for session := range s.sessions {
		session.Close()
	}
	log.Infof("StreamServer: closed %d sessions", len(s.sessions))
	return nil
}

func (s *StreamServer) track(session *smux.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[session] = struct{}{}
}

func (s *StreamServer) untrack(session *smux.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, session)
}

// Serve accepts connections until ctx is done or the listener fails.
// Sessions already accepted are closed when ctx is done.
func (s *StreamServer) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
		s.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		log.Infof("StreamServer: accepted %v", conn.RemoteAddr())
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				log.Warnf("StreamServer: connection %v: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ServeConn runs a smux server session on conn until it closes or ctx is
// done.
func (s *StreamServer) ServeConn(ctx context.Context, conn net.Conn) error {
	session, err := smux.Server(conn, DefaultSmuxConfig())
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMUX: %w", err)
	}
	s.track(session)
	defer func() {
		s.untrack(session)
		session.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-session.CloseChan():
		}
	}()

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if session.IsClosed() {
				return nil
			}
			return err
		}
		go s.handleStream(ctx, stream)
	}
}

func (s *StreamServer) handleStream(ctx context.Context, stream *smux.Stream) {
	defer stream.Close()

	var req streamRequest
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		log.Warnf("StreamServer: bad request: %v", err)
		return
	}

	var resp streamResponse
	if err := s.apply(ctx, req); err != nil {
		resp.Error = err.Error()
		log.Errorf("StreamServer: %s on %s failed: %v", req.Op, req.Node, err)
	}
	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		log.Warnf("StreamServer: reply: %v", err)
	}
}

func (s *StreamServer) apply(ctx context.Context, req streamRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Op {
	case OpAddFlow:
		return s.local.Apply(ctx, req.Rule)
	case OpDelFlows:
		c, ok := s.local.(Clearer)
		if !ok {
			return fmt.Errorf("local sink cannot clear flows")
		}
		return c.Clear(ctx, req.Node)
	}
	return fmt.Errorf("unknown op %q", req.Op)
}
