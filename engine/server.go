package main

import (
	"bufio"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtkit/periodic/engine/observability"
	"github.com/rtkit/periodic/engine/protocol"
	"github.com/rtkit/periodic/engine/supervisor"
)

const replyWriteTimeout = 5 * time.Second

// Conn wraps one accepted client connection. The reader goroutine owns the
// read side and is the only closer of the socket during normal operation;
// replies may come from the reader (overflow synthesis) or the supervisor,
// serialized by mu.
type Conn struct {
	nc   net.Conn
	mu   sync.Mutex
	dead bool
}

// Reply writes one response line. A failed write marks the connection dead
// and later replies are dropped silently; the reader loop notices the peer
// is gone and closes the socket.
func (c *Conn) Reply(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return
	}
	c.nc.SetWriteDeadline(time.Now().Add(replyWriteTimeout))
	if _, err := c.nc.Write([]byte(line + "\n")); err != nil {
		c.dead = true
	}
}

// Server is the connection multiplexer: it accepts control connections,
// runs one reader goroutine per connection, and enqueues parsed commands
// for the supervisor.
type Server struct {
	queue      *supervisor.Queue
	lineMax    int
	maxClients int

	ln      net.Listener
	closing atomic.Bool

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup

	connCount atomic.Int32
}

// NewServer creates a multiplexer feeding the given queue.
func NewServer(queue *supervisor.Queue, lineMax, maxClients int) *Server {
	return &Server{
		queue:      queue,
		lineMax:    lineMax,
		maxClients: maxClients,
		conns:      make(map[*Conn]struct{}),
	}
}

// Listen binds the control port. Kept separate from Serve so the caller
// can fail fast on bind errors and learn the bound address.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until the listener is closed. Connections
// beyond the client cap are accepted and immediately closed; live
// connections keep being serviced.
func (s *Server) Serve() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Printf("accept failed: %v", err)
			return
		}

		if int(s.connCount.Load()) >= s.maxClients {
			observability.ConnectionsRejected.Inc()
			nc.Close()
			continue
		}

		c := &Conn{nc: nc}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.connCount.Add(1)
		observability.Connections.Set(float64(s.connCount.Load()))

		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// readLoop reads lines from one connection, parses them, and enqueues the
// resulting events. It never blocks on a full queue: overflow is answered
// locally with ERR QUEUE_FULL.
func (s *Server) readLoop(c *Conn) {
	defer s.wg.Done()
	defer func() {
		c.nc.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.connCount.Add(-1)
		observability.Connections.Set(float64(s.connCount.Load()))
	}()

	// The reader buffer is exactly LINE_MAX: a line that overflows it has
	// no terminator within bounds and resets the connection.
	r := bufio.NewReaderSize(c.nc, s.lineMax)
	for {
		line, err := r.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				c.Reply("ERR LINE_TOO_LONG")
			}
			return
		}

		cmd, ok := protocol.Parse(string(line[:len(line)-1]))
		if !ok {
			continue
		}

		ev := supervisor.Event{Conn: c, Cmd: cmd}
		if err := s.queue.Enqueue(ev); err != nil {
			c.Reply("ERR QUEUE_FULL")
		}
	}
}

// Stop ceases accepting, closes the listener, and drains connection
// readers within the grace period. Stragglers are force-closed.
func (s *Server) Stop(grace time.Duration) {
	s.closing.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return
	case <-time.After(grace):
	}

	s.mu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()

	select {
	case <-drained:
	case <-time.After(grace):
		log.Printf("connection readers did not drain within %v", grace)
	}
}
