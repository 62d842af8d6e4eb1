package tcpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/batchwriter"
	"github.com/cccl/grid-engine/internal/broadcast"
	"github.com/cccl/grid-engine/internal/metrics"
)

// Config configures the TCP protocol server.
type Config struct {
	Addr       string
	Backlog    int
	MaxClients int
	ConnConfig
}

// Server accepts connections on a TCP listener and runs the heartbeat
// protocol on each, bounded to MaxClients concurrently-handled
// connections. One goroutine per connection preserves per-client state
// ordering.
type Server struct {
	cfg    Config
	writer *batchwriter.SolarWriter
	bus    *broadcast.Bus
	live   LivenessToucher
	stats  *metrics.Stats
	log    zerolog.Logger
	cycle  *Cycle

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server. live may be nil. Call Serve to begin accepting
// connections.
func New(cfg Config, writer *batchwriter.SolarWriter, bus *broadcast.Bus, live LivenessToucher, stats *metrics.Stats, log zerolog.Logger) *Server {
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = 100
	}
	return &Server{
		cfg:    cfg,
		writer: writer,
		bus:    bus,
		live:   live,
		stats:  stats,
		log:    log.With().Str("component", "tcpserver").Logger(),
		cycle:  NewCycle(),
		sem:    make(chan struct{}, maxClients),
	}
}

// Serve listens on cfg.Addr and accepts connections until ctx is
// cancelled. Each accepted connection is handed to one worker goroutine,
// bounded by the MaxClients semaphore. When saturated, Accept keeps
// pulling off the OS backlog but the handler goroutine blocks on the
// semaphore until a slot frees, matching "per-client state ordering" with
// bounded overall concurrency.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.log.Info().Str("addr", s.cfg.Addr).Int("max_clients", cap(s.sem)).Msg("tcp server listening")

	go func() {
		<-ctx.Done()
		// Acceptors close immediately on shutdown; active connections are
		// left to terminate on their own read-timeout cycle.
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				return err
			}
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
	default:
		// Saturated: wait for a slot, but do so without holding the
		// listener's Accept loop hostage (already handed off to this
		// goroutine).
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	if s.stats != nil {
		s.stats.IncActiveConnections()
		defer s.stats.DecActiveConnections()
	}

	h := &connHandler{
		conn:   conn,
		cycle:  s.cycle,
		writer: s.writer,
		bus:    s.bus,
		live:   s.live,
		stats:  s.stats,
		log:    s.log,
		cfg:    s.cfg.ConnConfig,
	}
	h.run()
}

// Close stops the listener immediately. Active connection goroutines are
// left to exit on their own.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// Wait blocks until every accepted connection's handler goroutine has
// returned, or until timeout elapses.
func (s *Server) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warn().Msg("tcp server connections did not drain within grace period")
	}
}
