// ABOUTME: Experiment-side socket server that streams screen and trial data to one remote console.
// ABOUTME: Runs on its own goroutine and talks to the trial loop only through Queues.
package clientserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNotConnected is returned by operations that need a console connection.
var ErrNotConnected = errors.New("clientserver: no console connected")

// DefaultPort is the console streaming port both binaries assume.
const DefaultPort = "50001"

// ServerConfig configures a Server.
type ServerConfig struct {
	// Addr is the TCP address to listen on, e.g. "localhost:50001".
	Addr string
	// PollTimeout bounds each wait for the next client request.
	PollTimeout time.Duration
	// IOTimeout bounds reading the rest of a started frame and each write.
	IOTimeout time.Duration
	// ParamTimeout bounds the wait for the console's answer to a
	// PARAM_REQUEST. Answers arriving later are dropped.
	ParamTimeout time.Duration
	// GazeParams reports the experiment's current gaze parameters. It is
	// called from the server goroutine and must be safe for that.
	GazeParams func() GazeParams
}

// DefaultServerConfig returns the stock server timings on addr.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:         addr,
		PollTimeout:  200 * time.Millisecond,
		IOTimeout:    5 * time.Second,
		ParamTimeout: 150 * time.Millisecond,
	}
}

// Server accepts exactly one console client per run.
type Server struct {
	cfg ServerConfig
	q   *Queues

	ln        net.Listener
	connected atomic.Bool
	connID    atomic.Value // string

	mu   sync.Mutex
	conn net.Conn

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// NewServer creates a server that reads from and writes to q.
func NewServer(cfg ServerConfig, q *Queues) *Server {
	def := DefaultServerConfig(cfg.Addr)
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	if cfg.ParamTimeout <= 0 {
		cfg.ParamTimeout = def.ParamTimeout
	}
	return &Server{
		cfg:  cfg,
		q:    q,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Listen binds the listening socket. Failure here is fatal to initialization.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	log.Printf("component=clientserver action=listen addr=%s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Connected reports whether a console is currently attached.
func (s *Server) Connected() bool {
	return s.connected.Load()
}

// ConnectionID identifies the current or most recent console connection.
func (s *Server) ConnectionID() string {
	id, _ := s.connID.Load().(string)
	return id
}

// PendingTrials reports how many trial records are queued for the console.
func (s *Server) PendingTrials() int {
	return s.q.PendingTrials()
}

// Done is closed once the server goroutine has exited, whether it never
// got a client, lost it, or was closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start launches the server goroutine. It waits for one client, then
// serves it until Close, ctx cancellation, or a connection error.
func (s *Server) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.done)
			s.run(ctx)
		}()
	})
}

// Close asks the server goroutine to stop and waits up to timeout for it.
// If it does not exit in time the connection is closed out from under it.
func (s *Server) Close(timeout time.Duration) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.ln != nil {
		_ = s.ln.Close()
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("clientserver: server goroutine did not exit within %s", 2*timeout)
	}
}

func (s *Server) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Server) run(ctx context.Context) {
	if s.ln == nil {
		return
	}
	conn, err := s.accept(ctx)
	if err != nil {
		if !s.stopping(ctx) {
			log.Printf("component=clientserver action=accept_failed err=%v", err)
		}
		return
	}

	id := uuid.NewString()
	s.connID.Store(id)
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	log.Printf("component=clientserver action=client_connected conn=%s remote=%s", id, conn.RemoteAddr())

	defer func() {
		s.connected.Store(false)
		_ = conn.Close()
		_ = s.ln.Close()
		log.Printf("component=clientserver action=client_disconnected conn=%s", id)
	}()

	if err := s.serve(ctx, frameReader{conn: conn, ioTimeout: s.cfg.IOTimeout}); err != nil {
		log.Printf("component=clientserver action=connection_lost conn=%s err=%v", id, err)
	}
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// accept waits for a client while staying responsive to Close.
func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	for {
		if s.stopping(ctx) {
			return nil, net.ErrClosed
		}
		if d, ok := s.ln.(deadliner); ok {
			_ = d.SetDeadline(time.Now().Add(s.cfg.PollTimeout))
		}
		conn, err := s.ln.Accept()
		if err == nil {
			return conn, nil
		}
		if isTimeout(err) {
			continue
		}
		return nil, err
	}
}

func (s *Server) serve(ctx context.Context, fr frameReader) error {
	for !s.stopping(ctx) {
		msg, err := fr.next(s.cfg.PollTimeout)
		if errors.Is(err, errIdle) {
			continue
		}
		if err != nil {
			return err
		}

		switch msg.Kind {
		case ParamRequest:
			if err := s.sendGazeParams(fr); err != nil {
				return err
			}
		case ServerRequest:
		case NewParams, OldParams:
			log.Printf("component=clientserver action=param_reply_late kind=%v", msg.Kind)
			continue
		default:
			return fmt.Errorf("unexpected %v from client", msg.Kind)
		}

		if cmd, ok := s.q.takeCmd(); ok && cmd == ParamRequest {
			if err := s.fetchConsoleParams(ctx, fr); err != nil {
				return err
			}
		}

		if b, ok := s.q.TakeTrial(); ok {
			if err := fr.write(TrialData, b); err != nil {
				return fmt.Errorf("send trial: %w", err)
			}
		}
		if b, ok := s.q.TakeScreen(); ok {
			if err := fr.write(NewScreen, b); err != nil {
				return fmt.Errorf("send screen: %w", err)
			}
		}
	}
	return s.flushTrials(fr)
}

// flushTrials sends every trial record still queued at shutdown.
func (s *Server) flushTrials(fr frameReader) error {
	n := 0
	for {
		b, ok := s.q.TakeTrial()
		if !ok {
			break
		}
		if err := fr.write(TrialData, b); err != nil {
			return fmt.Errorf("flush trials: %w", err)
		}
		n++
	}
	if n > 0 {
		log.Printf("component=clientserver action=flushed_trials count=%d", n)
	}
	return nil
}

func (s *Server) sendGazeParams(fr frameReader) error {
	var p GazeParams
	if s.cfg.GazeParams != nil {
		p = s.cfg.GazeParams()
	}
	b, err := EncodeGazeParams(p)
	if err != nil {
		return err
	}
	return fr.write(NewParams, b)
}

// fetchConsoleParams sends PARAM_REQUEST and relays the console's answer to
// the trial loop. Polls that cross the request on the wire are absorbed.
func (s *Server) fetchConsoleParams(ctx context.Context, fr frameReader) error {
	if err := fr.write(ParamRequest, nil); err != nil {
		return err
	}
	deadline := time.Now().Add(s.cfg.ParamTimeout)
	for !s.stopping(ctx) {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		msg, err := fr.next(min(left, s.cfg.PollTimeout))
		if errors.Is(err, errIdle) {
			continue
		}
		if err != nil {
			return err
		}
		switch msg.Kind {
		case NewParams:
			s.q.putParams(msg.Payload)
			return nil
		case OldParams:
			s.q.putParams(nil)
			return nil
		case ParamRequest:
			if err := s.sendGazeParams(fr); err != nil {
				return err
			}
		case ServerRequest:
		default:
			return fmt.Errorf("unexpected %v while awaiting params", msg.Kind)
		}
	}
	log.Printf("component=clientserver action=param_reply_timeout after=%s", s.cfg.ParamTimeout)
	return nil
}
