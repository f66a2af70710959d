// Package server implements the UDP listener loop described in
// spec.md §4.6: receive a datagram, parse it as a request, run the
// recursive resolver against the first question, compose and send a
// response. Each datagram is handed to the worker pool so a slow
// upstream resolution never blocks the listener, per spec.md §5.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/dnsscience/rdnsd/internal/bufpool"
	"github.com/dnsscience/rdnsd/internal/metrics"
	"github.com/dnsscience/rdnsd/internal/resolver"
	"github.com/dnsscience/rdnsd/internal/wire"
	"github.com/dnsscience/rdnsd/internal/worker"
)

// Config controls the UDP listener and the worker pool fanning out
// request handling.
type Config struct {
	// ListenAddr is the UDP address to bind, e.g. ":2053".
	ListenAddr string

	// Workers is the size of the worker pool handling inbound
	// datagrams concurrently. 0 lets worker.NewPool pick a default.
	Workers int

	// QueueSize bounds how many datagrams may wait for a free worker
	// before Submit blocks. 0 lets worker.NewPool pick a default.
	QueueSize int
}

// Server binds one UDP socket and answers each inbound datagram with
// the recursive resolver's result for its first question.
type Server struct {
	cfg      Config
	conn     *net.UDPConn
	resolver *resolver.Resolver
	pool     *worker.Pool

	queries  atomic.Uint64
	answers  atomic.Uint64
	errors   atomic.Uint64
	nxdomain atomic.Uint64

	closing atomic.Bool
}

// New binds cfg.ListenAddr and returns a Server ready to Serve,
// answering queries through res.
func New(cfg Config, res *resolver.Resolver) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: resolving %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: binding %q: %w", cfg.ListenAddr, err)
	}

	return &Server{
		cfg:      cfg,
		conn:     conn,
		resolver: res,
		pool: worker.NewPool(worker.Config{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
		}),
	}, nil
}

// Serve reads datagrams from the listening socket until ctx is
// canceled or the socket errors, handing each one to the worker pool.
// Per spec.md §5, the listening socket is read by exactly one
// goroutine; workers share no mutable state with each other or with
// the listener beyond the Server's atomic counters.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.closing.Store(true)
		s.conn.Close()
	}()

	for {
		buf := bufpool.GetBuffer()
		n, peer, err := s.conn.ReadFromUDP(buf.Bytes())
		if err != nil {
			bufpool.PutBuffer(buf)
			if s.closing.Load() {
				return nil
			}
			return fmt.Errorf("server: reading datagram: %w", err)
		}

		datagram := buf
		datagramLen := n
		src := peer
		job := worker.JobFunc(func(jobCtx context.Context) error {
			defer bufpool.PutBuffer(datagram)
			s.handle(jobCtx, datagram, datagramLen, src)
			return nil
		})

		// Submit blocks until a worker has run the job, so it runs in
		// its own goroutine: the single reader above must never block
		// on a busy pool, only on the socket itself.
		go func() {
			// On error the job may already be queued and will run (and
			// free datagram itself) later, so don't free it here too.
			if err := s.pool.Submit(ctx, job); err != nil && !errors.Is(err, worker.ErrPoolClosed) {
				log.Printf("server: dropping datagram from %s: %v", src, err)
			}
		}()
	}
}

// handle implements spec.md §4.6 steps 1-5 for one inbound datagram.
func (s *Server) handle(ctx context.Context, reqBuf *wire.Buffer, n int, src *net.UDPAddr) {
	s.queries.Add(1)
	start := time.Now()

	_ = n // the full buffer is parsed; trailing zero bytes past n are inert

	req, err := wire.FromBuffer(reqBuf)
	if err != nil {
		log.Printf("server: malformed request from %s: %v", src, err)
		return
	}

	resp := bufpool.GetMessage()
	defer bufpool.PutMessage(resp)
	resp.Header.ID = req.Header.ID
	resp.Header.Response = true
	resp.Header.RecursionDesired = true
	resp.Header.RecursionAvailable = true

	if len(req.Questions) == 0 {
		resp.Header.RCode = wire.FORMERR
		s.errors.Add(1)
		s.send(resp, src)
		return
	}

	q := req.Questions[0]
	resp.Questions = []wire.Question{q}
	metrics.QueriesTotal.WithLabelValues(q.QType.String()).Inc()

	result, err := s.resolver.Lookup(ctx, q.Name, q.QType)
	if err != nil {
		resp.Header.RCode = wire.SERVFAIL
		s.errors.Add(1)
		metrics.ObserveResolution(q.QType.String(), start, 0, false, false, err)
		s.send(resp, src)
		return
	}

	resp.Header.RCode = result.Header.RCode
	resp.Answers = result.Answers
	resp.Authority = result.Authority
	resp.Additional = result.Additional

	nxdomain := result.Header.RCode == wire.NXDOMAIN
	if nxdomain {
		s.nxdomain.Add(1)
	} else if len(result.Answers) > 0 {
		s.answers.Add(1)
	}
	metrics.ObserveResolution(q.QType.String(), start, 0, len(result.Answers) > 0, nxdomain, nil)

	s.send(resp, src)
}

// send serialises resp and writes it back to src, logging (never
// panicking) on any failure: a send failure must not take the
// listener down.
func (s *Server) send(resp *wire.Message, src *net.UDPAddr) {
	buf := bufpool.GetBuffer()
	defer bufpool.PutBuffer(buf)

	if err := resp.Write(buf); err != nil {
		log.Printf("server: encoding response to %s: %v", src, err)
		return
	}
	if _, err := s.conn.WriteToUDP(buf.Bytes()[:buf.Position()], src); err != nil {
		log.Printf("server: sending response to %s: %v", src, err)
	}
}

// Close shuts down the listening socket and waits for in-flight
// handlers to finish. It is safe to call after Serve's own ctx has
// already closed the socket (e.g. a caller that cancels ctx and then
// calls Close unconditionally): a redundant close of an already-closed
// socket is not treated as a failure.
func (s *Server) Close() error {
	wasClosing := s.closing.Swap(true)
	connErr := s.conn.Close()
	poolErr := s.pool.Close()
	if connErr != nil && !wasClosing && !errors.Is(connErr, net.ErrClosed) {
		return connErr
	}
	if poolErr != nil && !errors.Is(poolErr, worker.ErrPoolClosed) {
		return poolErr
	}
	return nil
}

// Stats is a snapshot of the server's request counters.
type Stats struct {
	Queries  uint64
	Answers  uint64
	Errors   uint64
	NXDOMAIN uint64
	Pool     worker.Stats
}

// GetStats returns the current counters, for the periodic stats
// printer in cmd/rdnsd.
func (s *Server) GetStats() Stats {
	return Stats{
		Queries:  s.queries.Load(),
		Answers:  s.answers.Load(),
		Errors:   s.errors.Load(),
		NXDOMAIN: s.nxdomain.Load(),
		Pool:     s.pool.GetStats(),
	}
}
