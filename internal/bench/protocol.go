package bench

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lox/pokerbench/internal/config"
	"github.com/lox/pokerbench/internal/pool"
)

const helpText = "" +
	"HELP - this message\n" +
	"GAMES - list available games and players\n" +
	"QSTAT - show the current queue\n" +
	"RUNMATCHES game #runs tag rngSeed player ... - submit match request\n" +
	"  - Player order decides match seating\n" +
	"  - \"LOCAL\" player runs the bm_widget agent (bot_command)\n"

// handleLine processes one complete line received on connection h: before
// logon it is treated as a "name password" pair, after logon it is
// dispatched to the matching command by case-insensitive prefix, exactly as
// the source's handleConnection does per line-event so no single client can
// starve the others.
func (s *Server) handleLine(h pool.Handle, line string) {
	conn, ok := s.conns.Get(h)
	if !ok || conn.status == StatusClosed {
		return
	}

	if conn.status == StatusUnvalidated {
		s.handleLogon(h, line)
		return
	}

	lower := strings.ToLower(strings.TrimSpace(line))
	switch {
	case strings.HasPrefix(lower, "help"):
		s.writeLine(h, helpText)
	case strings.HasPrefix(lower, "games"):
		s.writeLine(h, s.gamesListing())
	case strings.HasPrefix(lower, "qstat"):
		s.writeLine(h, s.queueStatus())
	case strings.HasPrefix(lower, "runmatches"):
		s.handleRunMatches(h, conn, line[len("runmatches"):])
	default:
		s.writeLine(h, "UNKNOWN\n")
	}
}

func (s *Server) handleLogon(h pool.Handle, line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		s.writeLine(h, "BAD LOGON\n")
		s.closeConnection(h)
		return
	}
	name, password := fields[0], fields[1]

	idx, ok := s.conf.FindUser(name)
	if !ok || s.conf.Users[idx].Password != password {
		s.writeLine(h, "BAD LOGON\n")
		s.closeConnection(h)
		return
	}

	if !s.writeLine(h, "LOGON OKAY - type help for commands\n") {
		return
	}
	conn, ok := s.conns.Get(h)
	if !ok {
		return
	}
	conn.status = StatusOkay
	conn.user = &s.conf.Users[idx]
	s.conns.Set(h, conn)
}

// gamesListing matches writeGameList: a blank line then the game file name,
// followed by one indented line per registered bot.
func (s *Server) gamesListing() string {
	var b strings.Builder
	for _, g := range s.conf.Games {
		fmt.Fprintf(&b, "\n%s\n", g.GameFile)
		for _, bot := range g.Bots {
			fmt.Fprintf(&b, " %s\n", bot.Name)
		}
	}
	return b.String()
}

// queueStatus matches writeQueueStatus: "Queue empty" when nothing is
// queued, otherwise one line per match giving the submitting user, tag,
// game file, and run/queued state. The literal "*" is a vestigial column
// from the wire format this server's control protocol was modeled on.
func (s *Server) queueStatus() string {
	var b strings.Builder
	empty := true
	s.matches.Each(func(_ pool.Handle, m Match) {
		empty = false
		state := "Q"
		if m.IsRunning {
			state = "R"
		}
		fmt.Fprintf(&b, "%s %s %s * %d %s\n", m.User.Name, m.Tag, m.Game.GameFile, m.NumRuns, state)
	})
	if empty {
		return "Queue empty\n"
	}
	return b.String()
}

// handleRunMatches parses and, on success, enqueues a match. Parsing is
// all-or-nothing: any malformed field rejects the whole line rather than
// queuing a partially-built match, matching parseMatchSpec. A successful
// submission writes nothing back — the client learns a match started only
// when the "# RUNNING" / "RUN" lines arrive later.
func (s *Server) handleRunMatches(h pool.Handle, conn Connection, rest string) {
	m, err := s.parseMatchSpec(h, conn, rest)
	if err != nil {
		s.logger.Warn().Err(err).Str("line", rest).Msg("bad RUNMATCHES command")
		s.writeLine(h, "BAD RUNMATCHES COMMAND\n")
		return
	}
	resolveSeed(m, s.serverSeeder)
	m.QueueTime = s.clock.Now()
	s.matches.Add(*m)
}

func (s *Server) parseMatchSpec(h pool.Handle, conn Connection, rest string) (*Match, error) {
	fields := strings.Fields(rest)
	if len(fields) < 4 {
		return nil, fmt.Errorf("too few fields")
	}

	gameFile, numRunsStr, tag, seedStr := fields[0], fields[1], fields[2], fields[3]

	idx, ok := s.conf.FindGame(gameFile)
	if !ok {
		return nil, fmt.Errorf("unknown game %s", gameFile)
	}
	game := &s.conf.Games[idx]

	numRuns, err := strconv.Atoi(numRunsStr)
	if err != nil || numRuns < 0 || numRuns > int(game.MaxMatchRuns) {
		return nil, fmt.Errorf("invalid numRuns %s", numRunsStr)
	}

	if tag == "" || strings.ContainsRune(tag, '/') {
		return nil, fmt.Errorf("invalid tag %s", tag)
	}

	seed64, err := strconv.ParseUint(seedStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %s", seedStr)
	}

	want := game.Def.NumPlayers
	if len(fields) != 4+want {
		return nil, fmt.Errorf("expected %d players, got %d", want, len(fields)-4)
	}

	players := make([]PlayerSeat, want)
	for i := 0; i < want; i++ {
		name := fields[4+i]
		if name == config.LocalPlayerName {
			players[i] = PlayerSeat{IsNetworkPlayer: true, ConnHandle: h}
			continue
		}
		bot, ok := game.FindBot(name)
		if !ok {
			return nil, fmt.Errorf("unknown bot %s", name)
		}
		players[i] = PlayerSeat{Bot: bot}
	}

	return &Match{
		Game:    game,
		User:    conn.user,
		NumRuns: numRuns,
		Tag:     tag,
		RngSeed: uint32(seed64),
		Players: players,
	}, nil
}
