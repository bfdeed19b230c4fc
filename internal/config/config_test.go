package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokerbench/internal/gamedef"
)

func fakeLoader(numPlayers int) gameFileLoader {
	return func(path string) (gamedef.Definition, error) {
		return gamedef.Definition{NumPlayers: numPlayers}, nil
	}
}

func TestParseDefaults(t *testing.T) {
	conf, err := parse(strings.NewReader(""), fakeLoader(2))
	require.NoError(t, err)

	assert.EqualValues(t, 54000, conf.Port)
	assert.EqualValues(t, 0, conf.MaxRunningBots)
	assert.EqualValues(t, 600, conf.StartupTimeoutSecs)
	assert.EqualValues(t, 6000, conf.ResponseTimeoutSecs)
	assert.EqualValues(t, 21000, conf.HandTimeoutSecs)
	assert.EqualValues(t, 70, conf.AvgHandTimeSecs)
}

func TestParseFullConfig(t *testing.T) {
	input := `
# comment
; also a comment

port 12345
maxRunningBots 10
startupTimeoutSecs 60
responseTimeoutSecs 70
handTimeoutSecs 80
avgHandTimeSecs 90
user alice secret
user bob hunter2

game holdem.limit.2p.game {
  maxMatchRuns 5
  maxRunningJobs 2
  matchHands 1000
  bot example /usr/bin/example-bot
  bot other /usr/bin/other-bot
}
`
	conf, err := parse(strings.NewReader(input), fakeLoader(2))
	require.NoError(t, err)

	assert.EqualValues(t, 12345, conf.Port)
	assert.EqualValues(t, 10, conf.MaxRunningBots)
	assert.EqualValues(t, 60, conf.StartupTimeoutSecs)
	assert.EqualValues(t, 70, conf.ResponseTimeoutSecs)
	assert.EqualValues(t, 80, conf.HandTimeoutSecs)
	assert.EqualValues(t, 90, conf.AvgHandTimeSecs)
	require.Len(t, conf.Users, 2)
	assert.Equal(t, "alice", conf.Users[0].Name)
	assert.Equal(t, "secret", conf.Users[0].Password)

	require.Len(t, conf.Games, 1)
	g := conf.Games[0]
	assert.Equal(t, "holdem.limit.2p.game", g.GameFile)
	assert.EqualValues(t, 5, g.MaxMatchRuns)
	assert.EqualValues(t, 2, g.MaxRunningJobs)
	assert.EqualValues(t, 1000, g.MatchHands)
	require.Len(t, g.Bots, 2)
	assert.Equal(t, "example", g.Bots[0].Name)
	assert.Equal(t, "/usr/bin/example-bot", g.Bots[0].Command)
}

func TestParseGameDefaults(t *testing.T) {
	input := "game g.game {\n}\n"
	conf, err := parse(strings.NewReader(input), fakeLoader(3))
	require.NoError(t, err)

	require.Len(t, conf.Games, 1)
	assert.EqualValues(t, 10, conf.Games[0].MaxMatchRuns)
	assert.EqualValues(t, 1, conf.Games[0].MaxRunningJobs)
	assert.EqualValues(t, 5000, conf.Games[0].MatchHands)
}

func TestParseRejectsReservedBotName(t *testing.T) {
	input := "game g.game {\nbot LOCAL /bin/true\n}\n"
	_, err := parse(strings.NewReader(input), fakeLoader(2))
	assert.Error(t, err)
}

func TestParseRejectsDuplicateBot(t *testing.T) {
	input := "game g.game {\nbot a /bin/true\nbot a /bin/false\n}\n"
	_, err := parse(strings.NewReader(input), fakeLoader(2))
	assert.Error(t, err)
}

func TestParseRejectsDuplicateUser(t *testing.T) {
	input := "user alice secret\nuser alice other\n"
	_, err := parse(strings.NewReader(input), fakeLoader(2))
	assert.Error(t, err)
}

func TestParseRejectsDuplicateGame(t *testing.T) {
	input := "game g.game {\n}\ngame g.game {\n}\n"
	_, err := parse(strings.NewReader(input), fakeLoader(2))
	assert.Error(t, err)
}

func TestParseRejectsMisscopedKeyword(t *testing.T) {
	cases := []string{
		"game g.game {\nport 123\n}\n",
		"maxMatchRuns 5\n",
		"bot a /bin/true\n",
	}
	for _, input := range cases {
		_, err := parse(strings.NewReader(input), fakeLoader(2))
		assert.Error(t, err, input)
	}
}

func TestParseRejectsUnknownKeyword(t *testing.T) {
	_, err := parse(strings.NewReader("bogus 1\n"), fakeLoader(2))
	assert.Error(t, err)
}

func TestParseRejectsNestedGameBlock(t *testing.T) {
	input := "game g.game {\ngame h.game {\n}\n}\n"
	_, err := parse(strings.NewReader(input), fakeLoader(2))
	assert.Error(t, err)
}

func TestParseRejectsUnterminatedGameBlock(t *testing.T) {
	input := "game g.game {\nmaxMatchRuns 5\n"
	_, err := parse(strings.NewReader(input), fakeLoader(2))
	assert.Error(t, err)
}

func TestFindGameAndUser(t *testing.T) {
	input := "user alice secret\ngame g.game {\n}\n"
	conf, err := parse(strings.NewReader(input), fakeLoader(2))
	require.NoError(t, err)

	_, ok := conf.FindGame("g.game")
	assert.True(t, ok)
	_, ok = conf.FindGame("missing.game")
	assert.False(t, ok)

	_, ok = conf.FindUser("alice")
	assert.True(t, ok)
	_, ok = conf.FindUser("bob")
	assert.False(t, ok)
}
