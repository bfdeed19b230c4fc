// Package bench implements the match scheduler and job supervisor: the
// queue of pending/running matches, the fairness policy that picks the next
// one to run, the subprocess lifecycle that spawns a referee plus its local
// bots, and the line-based control protocol clients speak to submit and
// monitor matches.
package bench

import (
	"net"
	"time"

	"github.com/lox/pokerbench/internal/config"
	"github.com/lox/pokerbench/internal/pool"
	"github.com/lox/pokerbench/internal/randutil"
)

// readBufLen bounds a single control-protocol line, matching READBUF_LEN.
const readBufLen = 4096

// ConnStatus is a Connection's place in its logon lifecycle.
type ConnStatus int

const (
	StatusUnvalidated ConnStatus = iota
	StatusOkay
	StatusClosed
)

// Connection is one client's line-framed duplex channel. Reads happen on a
// dedicated per-connection goroutine that feeds lineEvents into the event
// loop's fan-in channel; writes happen synchronously from the event loop
// goroutine directly against conn. Neither side touches status/user
// without going through the owning Server's connection pool.
type Connection struct {
	status ConnStatus
	user   *config.UserSpec // set iff status == StatusOkay

	conn net.Conn
}

// PlayerSeat is one seat in a Match: either bound to a submitting
// connection (network player) or to a registered bot.
type PlayerSeat struct {
	IsNetworkPlayer bool
	ConnHandle      pool.Handle // valid iff IsNetworkPlayer
	Bot             config.BotSpec
}

// Match is a queued or running match request.
type Match struct {
	Game *config.GameConfig
	User *config.UserSpec

	NumRuns       int
	Tag           string
	RngSeed       uint32
	UseRngForSeed bool
	Seeder        *randutil.Seeder // non-nil iff UseRngForSeed

	QueueTime time.Time
	Players   []PlayerSeat
	IsRunning bool
}

// LocalBotCount returns how many of the match's seats spawn a local bot
// process (as opposed to a network player).
func (m *Match) LocalBotCount() int {
	n := 0
	for _, p := range m.Players {
		if !p.IsNetworkPlayer {
			n++
		}
	}
	return n
}

// UsesConnection reports whether any seat of m is bound to h.
func (m *Match) UsesConnection(h pool.Handle) bool {
	for _, p := range m.Players {
		if p.IsNetworkPlayer && p.ConnHandle == h {
			return true
		}
	}
	return false
}

// MatchJob is one in-flight dispatch: a referee plus its local bots.
type MatchJob struct {
	MatchHandle pool.Handle
	Tag         string // "<username>.<matchTag>"

	Dealer *Child
	Bots   []*Child // nil entry at a network seat
	Ports  []uint16
}

// Live reports whether any child process of the job has not yet been
// reaped. A job with no live children is finished and should be dropped.
func (j *MatchJob) Live() bool {
	if j.Dealer != nil {
		return true
	}
	for _, b := range j.Bots {
		if b != nil {
			return true
		}
	}
	return false
}
