package bench

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lox/pokerbench/internal/config"
	"github.com/lox/pokerbench/internal/pool"
)

const (
	// dealerPath is the referee binary name, resolved via $PATH the same
	// way the source locates BM_DEALER.
	dealerPath = "dealer"

	logDir = "logs"

	// portHandshakeTimeout bounds how long we wait for the referee to
	// print its port-assignment line before giving up.
	portHandshakeTimeout = 5 * time.Second
)

// dispatchJob starts a referee for match and one process per local bot
// seat, notifying network seats of where to connect. A dealer fork/exec
// failure or port-handshake failure is returned as an error and is fatal
// to the whole server, matching the source treating those as unrecoverable.
// A short write to a network seat aborts only this job: the dealer and any
// bots already started are sent SIGTERM, and the partial job is still
// returned so it gets reaped normally on the next tick.
func (s *Server) dispatchJob(matchHandle pool.Handle, match *Match, seed uint32) (MatchJob, error) {
	job := MatchJob{
		MatchHandle: matchHandle,
		Tag:         match.User.Name + "." + match.Tag,
		Bots:        make([]*Child, len(match.Players)),
	}

	if err := s.startDealer(match, &job, seed); err != nil {
		return MatchJob{}, err
	}

	botPosition := 0
	for i, seat := range match.Players {
		if seat.IsNetworkPlayer {
			if err := s.sendStartMessage(seat.ConnHandle, job.Tag, job.Ports[i]); err != nil {
				s.logger.Warn().Err(err).Str("tag", job.Tag).Msg("aborting job after failed start notification")
				_ = job.Dealer.Signal(syscall.SIGTERM)
				for p := 0; p < i; p++ {
					if job.Bots[p] != nil {
						_ = job.Bots[p].Signal(syscall.SIGTERM)
					}
				}
				return job, nil
			}
			continue
		}

		child, err := s.startBot(seat.Bot, job.Ports[i], botPosition)
		if err != nil {
			return MatchJob{}, fmt.Errorf("starting bot %q: %w", seat.Bot.Name, err)
		}
		job.Bots[i] = child
		botPosition++
	}

	return job, nil
}

// startDealer forks the referee, wiring its stderr to a per-job log file
// and reading its stdout for the port-assignment line, matching the
// source's startDealer plus the bounded read loop in runMatchJob.
func (s *Server) startDealer(match *Match, job *MatchJob, seed uint32) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	stderrFile, err := os.OpenFile(filepath.Join(logDir, job.Tag+".stderr"),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening dealer stderr log: %w", err)
	}
	defer stderrFile.Close()

	cmd := exec.Command(dealerPath, buildDealerArgs(s.conf, match, job.Tag, seed)...)
	cmd.Stderr = stderrFile

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("wiring dealer stdout: %w", err)
	}

	child := NewChild(cmd, s.logger)
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting dealer: %w", err)
	}

	ports, err := readPortLine(stdout, portHandshakeTimeout, match.Game.Def.NumPlayers)
	if err != nil {
		_ = child.Signal(syscall.SIGTERM)
		return fmt.Errorf("dealer port handshake: %w", err)
	}

	job.Dealer = child
	job.Ports = ports
	return nil
}

// buildDealerArgs mirrors startDealer's argv construction in the source:
// log path, game file, hand count and seed, then one player name per seat,
// then the timeout flags (--start_timeout omitted when the server was
// configured with a zero startup timeout), finishing with the fixed -q -a
// flags.
func buildDealerArgs(conf *config.Config, match *Match, tag string, seed uint32) []string {
	args := []string{
		filepath.Join(logDir, tag),
		match.Game.GameFile,
		strconv.FormatUint(uint64(match.Game.MatchHands), 10),
		strconv.FormatUint(uint64(seed), 10),
	}
	for _, seat := range match.Players {
		if seat.IsNetworkPlayer {
			args = append(args, match.User.Name)
		} else {
			args = append(args, seat.Bot.Name)
		}
	}

	if conf.StartupTimeoutSecs != 0 {
		args = append(args, "--start_timeout", millis(conf.StartupTimeoutSecs))
	}
	args = append(args,
		"--t_response", millis(conf.ResponseTimeoutSecs),
		"--t_hand", millis(conf.HandTimeoutSecs),
		"--t_per_hand", millis(conf.AvgHandTimeSecs),
		"-q", "-a",
	)
	return args
}

func millis(secs uint16) string {
	return strconv.Itoa(int(secs) * 1000)
}

// startBot forks one bot process for a local seat, redirecting its stdout
// and stderr to the server's shared /dev/null handle, matching startBot's
// devnullfd redirection in the source.
func (s *Server) startBot(bot config.BotSpec, port uint16, botPosition int) (*Child, error) {
	cmd := exec.Command(bot.Command, s.hostname, strconv.FormatUint(uint64(port), 10), strconv.Itoa(botPosition))
	cmd.Stdout = s.devnull
	cmd.Stderr = s.devnull

	child := NewChild(cmd, s.logger)
	if err := child.Start(); err != nil {
		return nil, err
	}
	return child, nil
}

// sendStartMessage tells a network seat's connection where its referee is
// listening. Either line failing to write in full is reported to the
// caller so the job can be rolled back; writeLine has already closed the
// connection by the time this returns an error.
func (s *Server) sendStartMessage(h pool.Handle, tag string, port uint16) error {
	if !s.writeLine(h, fmt.Sprintf("# RUNNING %s\n", tag)) {
		return fmt.Errorf("short write announcing job to connection")
	}
	if !s.writeLine(h, fmt.Sprintf("RUN %s %d\n", s.hostname, port)) {
		return fmt.Errorf("short write sending run address to connection")
	}
	return nil
}

// portLineResult carries the outcome of the background read in
// readPortLine back to the select that enforces the timeout.
type portLineResult struct {
	line string
	err  error
}

// readPortLine waits up to timeout for the referee to print its
// space-separated port list, one port per player. The read runs on its own
// goroutine so a referee that never writes cannot block the caller past the
// deadline; if the timeout fires that goroutine is abandoned; the caller
// treats a timeout as fatal and the whole process is about to exit.
func readPortLine(stdout io.Reader, timeout time.Duration, numPlayers int) ([]uint16, error) {
	ch := make(chan portLineResult, 1)
	go func() {
		r := bufio.NewReader(stdout)
		line, err := r.ReadString('\n')
		ch <- portLineResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("reading port line: %w", res.err)
		}
		return parsePortLine(res.line, numPlayers)
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out after %s waiting for port line", timeout)
	}
}

func parsePortLine(line string, numPlayers int) ([]uint16, error) {
	fields := strings.Fields(line)
	if len(fields) != numPlayers {
		return nil, fmt.Errorf("expected %d ports, got %d", numPlayers, len(fields))
	}
	ports := make([]uint16, numPlayers)
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parsing port for seat %d: %w", i, err)
		}
		ports[i] = uint16(v)
	}
	return ports, nil
}

// reapJobs polls every live job's children once, non-blocking, and retires
// any job whose children have all exited. This is the once-per-tick
// replacement for the source's waitpid(WNOHANG) sweep in checkIfJobFinished.
func (s *Server) reapJobs() {
	for _, h := range s.jobs.Handles() {
		job, ok := s.jobs.Get(h)
		if !ok {
			continue
		}

		changed := false
		if job.Dealer != nil && job.Dealer.Reaped() {
			job.Dealer = nil
			changed = true
		}
		for i, b := range job.Bots {
			if b != nil && b.Reaped() {
				job.Bots[i] = nil
				changed = true
			}
		}
		if changed {
			s.jobs.Set(h, job)
		}

		if !job.Live() {
			s.finishJob(h, job)
		}
	}
}

// finishJob releases the job's slot in its game's running-job budget and
// marks the owning match no longer running, matching finishedJob.
func (s *Server) finishJob(h pool.Handle, job MatchJob) {
	if m, ok := s.matches.Get(job.MatchHandle); ok {
		if m.Game.CurRunningJobs > 0 {
			m.Game.CurRunningJobs--
		}
		m.IsRunning = false
		s.matches.Set(job.MatchHandle, m)
	}
	s.jobs.Remove(h)
}
