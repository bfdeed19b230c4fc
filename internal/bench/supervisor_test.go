package bench

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lox/pokerbench/internal/config"
	"github.com/lox/pokerbench/internal/gamedef"
)

// withFakeBinaries puts a directory containing the named executable shell
// scripts at the front of PATH for the duration of the test, the same
// approach the teacher's spawner tests use for injecting test "bot"
// processes without a real referee or bot binary.
func withFakeBinaries(t *testing.T, scripts map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// fakeDealerScript immediately prints one space-separated port per player
// and then blocks until signalled, mimicking the referee's port-handshake
// line followed by a long-running match.
func fakeDealerScript(numPlayers int) string {
	ports := make([]string, numPlayers)
	for i := range ports {
		ports[i] = fmt.Sprintf("%d", 20000+i)
	}
	return fmt.Sprintf("echo '%s'\ntrap 'exit 0' TERM\nsleep 10\n", strings.Join(ports, " "))
}

const fakeDealerNeverWritesScript = "trap 'exit 0' TERM\nsleep 10\n"

const fakeBotScript = "trap 'exit 0' TERM\nsleep 10\n"

func testGameConfig(numPlayers int) *config.GameConfig {
	bots := make([]config.BotSpec, numPlayers)
	for i := range bots {
		bots[i] = config.BotSpec{Name: fmt.Sprintf("bot%d", i+1), Command: fmt.Sprintf("bot%d.sh", i+1)}
	}
	return &config.GameConfig{
		GameFile:       "test.game",
		Def:            gamedef.Definition{NumPlayers: numPlayers},
		MaxMatchRuns:   10,
		MaxRunningJobs: 0,
		MatchHands:     10,
		Bots:           bots,
	}
}

func TestDispatchJobStartsDealerAndBot(t *testing.T) {
	withFakeBinaries(t, map[string]string{
		"dealer":  fakeDealerScript(2),
		"bot1.sh": fakeBotScript,
	})

	s := newTestServer(t)
	t.Chdir(t.TempDir())

	client, peer := net.Pipe()
	defer client.Close()

	connHandle := s.conns.Add(Connection{status: StatusOkay, conn: peer})

	game := testGameConfig(2)
	user := &config.UserSpec{Name: "alice"}
	match := &Match{
		Game: game,
		User: user,
		Tag:  "t1",
		Players: []PlayerSeat{
			{IsNetworkPlayer: true, ConnHandle: connHandle},
			{Bot: game.Bots[0]},
		},
	}

	recv := make(chan string, 2)
	go func() {
		r := bufio.NewReader(client)
		for i := 0; i < 2; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			recv <- line
		}
	}()

	job, err := s.dispatchJob(1, match, 42)
	require.NoError(t, err)
	require.NotNil(t, job.Dealer)
	require.NotNil(t, job.Bots[1])
	require.Len(t, job.Ports, 2)

	require.Eventually(t, func() bool { return len(recv) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, fmt.Sprintf("# RUNNING %s\n", job.Tag), <-recv)
	require.True(t, strings.HasPrefix(<-recv, "RUN "))

	require.NoError(t, job.Dealer.Signal(syscall.SIGTERM))
	require.NoError(t, job.Bots[1].Signal(syscall.SIGTERM))
}

func TestDispatchJobAbortsOnShortWriteToNetworkSeat(t *testing.T) {
	withFakeBinaries(t, map[string]string{
		"dealer": fakeDealerScript(1),
	})

	s := newTestServer(t)
	t.Chdir(t.TempDir())

	client, peer := net.Pipe()
	client.Close() // the network seat's peer is already gone: writes to it fail
	defer peer.Close()

	connHandle := s.conns.Add(Connection{status: StatusOkay, conn: peer})

	game := testGameConfig(1)
	user := &config.UserSpec{Name: "alice"}
	match := &Match{
		Game:    game,
		User:    user,
		Tag:     "t2",
		Players: []PlayerSeat{{IsNetworkPlayer: true, ConnHandle: connHandle}},
	}

	job, err := s.dispatchJob(1, match, 7)
	require.NoError(t, err, "a short write aborts the job, it does not fail dispatch")
	require.NotNil(t, job.Dealer, "partial job still carries the dealer for normal reaping")

	require.Eventually(t, job.Dealer.Reaped, time.Second, 5*time.Millisecond)

	conn, ok := s.conns.Get(connHandle)
	require.True(t, ok)
	require.Equal(t, StatusClosed, conn.status, "the failed write also closes the connection")
}

func TestDispatchJobFailsOnDealerStartFailure(t *testing.T) {
	// No "dealer" executable on PATH at all: starting the process itself
	// fails, which is fatal to the whole server, same as a fork failure.
	t.Setenv("PATH", t.TempDir())
	s := newTestServer(t)
	t.Chdir(t.TempDir())

	game := testGameConfig(1)
	user := &config.UserSpec{Name: "alice"}
	match := &Match{Game: game, User: user, Tag: "t3", Players: []PlayerSeat{{Bot: game.Bots[0]}}}

	_, err := s.dispatchJob(1, match, 1)
	require.Error(t, err)
}

func TestReadPortLineTimesOutWhenDealerNeverWrites(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	_, err := readPortLine(r, 20*time.Millisecond, 2)
	require.Error(t, err)
}
