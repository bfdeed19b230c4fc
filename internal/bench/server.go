package bench

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/pokerbench/internal/config"
	"github.com/lox/pokerbench/internal/pool"
	"github.com/lox/pokerbench/internal/randutil"
)

// tickInterval is how often the event loop runs its housekeeping pass
// (reap finished jobs, reap closed connections, run a scheduling pass) when
// no connection or network event has woken it sooner. This is the
// goroutine-and-channel replacement for the source's fixed select() timeout
// in its single-threaded dispatch loop.
const tickInterval = 1 * time.Second

// Server owns every piece of mutable state: the connection, match, and job
// pools, plus the listener and the one event-loop goroutine allowed to
// mutate any of them. Reader goroutines and the accept loop only ever hand
// data to the event loop over channels; they never touch the pools
// directly, which is what keeps the scheduler's fairness bookkeeping
// race-free without a single lock.
type Server struct {
	conf   *config.Config
	logger zerolog.Logger
	clock  quartz.Clock

	hostname     string
	devnull      *os.File
	serverSeeder *randutil.Seeder

	listener net.Listener
	conns    *pool.Pool[Connection]
	matches  *pool.Pool[Match]
	jobs     *pool.Pool[MatchJob]

	newConns chan net.Conn
	events   chan lineEvent
	stop     chan struct{}
}

// New constructs a Server bound to conf. clock lets tests substitute a
// quartz.Mock to control waitStart/queueTime ordering deterministically;
// production callers pass quartz.NewReal().
func New(conf *config.Config, logger zerolog.Logger, clock quartz.Clock) (*Server, error) {
	hostname, err := resolveHostname()
	if err != nil {
		return nil, fmt.Errorf("resolving server hostname: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening null device: %w", err)
	}

	return &Server{
		conf:         conf,
		logger:       logger,
		clock:        clock,
		hostname:     hostname,
		devnull:      devnull,
		serverSeeder: randutil.NewSeeder(uint32(clock.Now().UnixNano())),
		conns:        pool.New[Connection](),
		matches:      pool.New[Match](),
		jobs:         pool.New[MatchJob](),
		newConns:     make(chan net.Conn),
		events:       make(chan lineEvent, 64),
		stop:         make(chan struct{}),
	}, nil
}

// resolveHostname returns the address bots and referees should be told to
// connect back to, preferring the host's own resolved IPv4 address the way
// the source does via gethostname/gethostbyname.
func resolveHostname() (string, error) {
	hn, err := os.Hostname()
	if err != nil {
		return "", err
	}
	addrs, err := net.LookupHost(hn)
	if err != nil || len(addrs) == 0 {
		return hn, nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}

// ListenAndServe binds the configured port and runs the event loop until
// ctx is cancelled. A bind failure is returned immediately; once serving
// begins, the only way out is ctx cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.conf.Port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", s.conf.Port, err)
	}
	s.listener = ln
	s.logger.Info().Uint16("port", s.conf.Port).Str("hostname", s.hostname).Msg("listening")

	go s.acceptLoop()
	return s.run(ctx)
}

// Addr returns the listener's bound address. Only meaningful after
// ListenAndServe has started listening; mainly useful in tests that bind
// port 0 and need to discover the assigned ephemeral port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		select {
		case s.newConns <- conn:
		case <-s.stop:
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) run(ctx context.Context) error {
	ticker := s.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case conn := <-s.newConns:
			s.acceptConnection(conn)
		case ev := <-s.events:
			s.handleEvent(ev)
		}
		s.tick()
	}
}

// tick runs the housekeeping and scheduling pass that follows every event the
// loop reacts to — a readable connection, a newly accepted socket, or the
// ticker firing with nothing else pending — mirroring the source's main()
// running its reap-then-"while(startMatchJob())" pass at the top of every
// iteration regardless of which fd woke select(), so a freshly queued match
// with a free slot starts on the very next loop turn rather than waiting for
// the next timer tick. The ticker's only remaining job is to guarantee a
// turn happens even when the server is otherwise idle.
func (s *Server) tick() {
	s.reapJobs()
	s.reapClosedConnections()
	s.schedulingPass()
}

func (s *Server) acceptConnection(conn net.Conn) {
	h := s.conns.Add(Connection{status: StatusUnvalidated, conn: conn})
	go connReader(h, conn, s.events)
}

func (s *Server) handleEvent(ev lineEvent) {
	if ev.eof {
		s.closeConnection(ev.handle)
		return
	}
	s.handleLine(ev.handle, ev.line)
}

// Close stops accepting new connections and waits for every live job child
// to exit before returning, so graceful shutdown never leaves a reachable
// zombie process behind.
func (s *Server) Close() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	close(s.stop)

	g := new(errgroup.Group)
	s.jobs.Each(func(_ pool.Handle, job MatchJob) {
		if job.Dealer != nil {
			d := job.Dealer
			g.Go(func() error { d.Wait(); return nil })
		}
		for _, b := range job.Bots {
			if b != nil {
				bb := b
				g.Go(func() error { bb.Wait(); return nil })
			}
		}
	})
	return g.Wait()
}
