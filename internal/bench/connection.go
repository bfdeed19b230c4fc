package bench

import (
	"bufio"
	"io"
	"net"
	"strings"

	"github.com/lox/pokerbench/internal/pool"
)

// lineEvent is what a connection's reader goroutine hands to the event
// loop: exactly one complete line, or an EOF/error notification. The fan-in
// channel this feeds is the Go replacement for the source's non-blocking
// select() over every connection fd — one goroutine per connection reads,
// the single event-loop goroutine is the only one that ever mutates
// ServerState.
type lineEvent struct {
	handle pool.Handle
	line   string
	eof    bool
}

// connReader reads newline-terminated lines from conn and forwards them to
// out until the connection is closed or errors. It never touches any
// shared state directly.
func connReader(h pool.Handle, conn net.Conn, out chan<- lineEvent) {
	r := bufio.NewReaderSize(conn, readBufLen)
	for {
		line, err := readBoundedLine(r)
		if err != nil {
			out <- lineEvent{handle: h, eof: true}
			return
		}
		out <- lineEvent{handle: h, line: line}
	}
}

// readBoundedLine reads one line, truncating at readBufLen bytes the way
// the source's fixed READBUF_LEN getLine does: an over-long line is cut
// short rather than returned unbounded, and the remainder up to the next
// newline is drained and discarded so framing is not lost for the
// following line.
func readBoundedLine(r *bufio.Reader) (string, error) {
	data, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		truncated := append([]byte(nil), data...)
		for {
			_, ferr := r.ReadSlice('\n')
			if ferr != bufio.ErrBufferFull {
				break
			}
		}
		return strings.TrimRight(string(truncated), "\r\n"), nil
	}
	if err != nil {
		if err == io.EOF && len(data) == 0 {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// writeLine writes line to the connection identified by h. A short write or
// any I/O error is fatal for the connection: it is closed immediately and
// false is returned. Writes are deliberately left without a deadline —
// sockets here are presumed short and drained, matching the single blocking
// write per event the server design relies on.
func (s *Server) writeLine(h pool.Handle, line string) bool {
	c, ok := s.conns.Get(h)
	if !ok || c.status == StatusClosed {
		return false
	}
	n, err := io.WriteString(c.conn, line)
	if err != nil || n < len(line) {
		s.closeConnection(h)
		return false
	}
	return true
}

// closeConnection marks h CLOSED, closes its socket, and forces numRuns to
// zero on every queued match that references it as any seat. It does not
// remove h from the connection pool — that happens on the next tick's
// reapClosedConnections pass, matching "a CLOSED connection is reaped on
// the next loop tick."
func (s *Server) closeConnection(h pool.Handle) {
	c, ok := s.conns.Get(h)
	if !ok || c.status == StatusClosed {
		return
	}
	_ = c.conn.Close()
	c.status = StatusClosed
	s.conns.Set(h, c)

	s.matches.Each(func(mh pool.Handle, m Match) {
		if m.UsesConnection(h) {
			m.NumRuns = 0
			s.matches.Set(mh, m)
		}
	})
}

func (s *Server) reapClosedConnections() {
	for _, h := range s.conns.Handles() {
		c, ok := s.conns.Get(h)
		if ok && c.status == StatusClosed {
			s.conns.Remove(h)
		}
	}
}
