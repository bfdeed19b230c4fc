// Package config loads the immutable server configuration consumed by the
// scheduler: the line-oriented file format described by the spec, plus the
// in-memory Config/GameConfig/BotSpec/UserSpec records it produces.
//
// Every failure here is the caller's cue to exit non-zero at startup —
// this package never logs, it only returns errors, matching the narrow,
// single-purpose shape of the teacher's own Load/Validate split.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lox/pokerbench/internal/gamedef"
)

// BotSpec is a locally-spawnable player registered for a game.
type BotSpec struct {
	Name    string
	Command string
}

// LocalPlayerName is reserved: a RUNMATCHES seat named this binds to the
// submitting connection instead of a registered bot.
const LocalPlayerName = "LOCAL"

// UserSpec is a registered client account.
type UserSpec struct {
	Name      string
	Password  string
	WaitStart time.Time
}

// GameConfig is one `game { ... }` block's resolved policy.
type GameConfig struct {
	GameFile       string
	Def            gamedef.Definition
	Bots           []BotSpec
	MaxMatchRuns   uint16
	MaxRunningJobs uint16
	MatchHands     uint32
	CurRunningJobs uint16
}

// FindBot returns the bot registered under name, if any.
func (g *GameConfig) FindBot(name string) (BotSpec, bool) {
	for _, b := range g.Bots {
		if b.Name == name {
			return b, true
		}
	}
	return BotSpec{}, false
}

const (
	defaultPort                = 54000
	defaultMaxRunningBots      = 0
	defaultStartupTimeoutSecs  = 600
	defaultResponseTimeoutSecs = 6000
	defaultHandTimeoutSecs     = 21000
	defaultAvgHandTimeSecs     = 70
	defaultMaxMatchRuns        = 10
	defaultMaxRunningJobs      = 1
	defaultMatchHands          = 5000
)

// Config is the complete, immutable server policy loaded at startup.
type Config struct {
	Port                uint16
	MaxRunningBots      uint16
	StartupTimeoutSecs  uint16
	ResponseTimeoutSecs uint16
	HandTimeoutSecs     uint16
	AvgHandTimeSecs     uint16
	Games               []GameConfig
	Users               []UserSpec
}

// FindGame returns the index of the GameConfig registered for gameFile, if
// any, so callers can address it in place (e.g. to mutate CurRunningJobs).
func (c *Config) FindGame(gameFile string) (int, bool) {
	for i := range c.Games {
		if c.Games[i].GameFile == gameFile {
			return i, true
		}
	}
	return 0, false
}

// FindUser returns the index of the registered user named name, if any.
func (c *Config) FindUser(name string) (int, bool) {
	for i := range c.Users {
		if c.Users[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// defaults returns a Config populated with the documented server-wide
// defaults and no games or users.
func defaults() Config {
	return Config{
		Port:                defaultPort,
		MaxRunningBots:      defaultMaxRunningBots,
		StartupTimeoutSecs:  defaultStartupTimeoutSecs,
		ResponseTimeoutSecs: defaultResponseTimeoutSecs,
		HandTimeoutSecs:     defaultHandTimeoutSecs,
		AvgHandTimeSecs:     defaultAvgHandTimeSecs,
	}
}

func newGameConfig() GameConfig {
	return GameConfig{
		MaxMatchRuns:   defaultMaxMatchRuns,
		MaxRunningJobs: defaultMaxRunningJobs,
		MatchHands:     defaultMatchHands,
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not open configuration file %s: %w", path, err)
	}
	defer f.Close()
	return parse(f, loadGameFile)
}

func loadGameFile(path string) (gamedef.Definition, error) {
	return gamedef.Load(path)
}

type gameFileLoader func(path string) (gamedef.Definition, error)

// parse implements the grammar in spec.md §6: leading whitespace is
// stripped, blank/`#`/`;` lines are ignored, and the whole leading keyword
// is compared case-insensitively against the known keys.
func parse(r io.Reader, loadGame gameFileLoader) (Config, error) {
	conf := defaults()

	var cur *GameConfig // non-nil while inside a `game { ... }` block
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		key, rest := splitKeyword(line)
		switch strings.ToLower(key) {
		case "port":
			if cur != nil {
				return Config{}, fmt.Errorf("config: port must be defined outside of game blocks")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get port from: %s", line)
			}
			conf.Port = v

		case "maxrunningbots":
			if cur != nil {
				return Config{}, fmt.Errorf("config: maxRunningBots must be defined outside of game blocks")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get maximum number of bots running from: %s", line)
			}
			conf.MaxRunningBots = v

		case "startuptimeoutsecs":
			if cur != nil {
				return Config{}, fmt.Errorf("config: startupTimeoutSecs must be defined outside of game blocks")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get maximum dealer startup timeout: %s", line)
			}
			conf.StartupTimeoutSecs = v

		case "responsetimeoutsecs":
			if cur != nil {
				return Config{}, fmt.Errorf("config: responseTimeoutSecs must be defined outside of game blocks")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get maximum dealer action timeout: %s", line)
			}
			conf.ResponseTimeoutSecs = v

		case "handtimeoutsecs":
			if cur != nil {
				return Config{}, fmt.Errorf("config: handTimeoutSecs must be defined outside of game blocks")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get maximum dealer hand timeout: %s", line)
			}
			conf.HandTimeoutSecs = v

		case "avghandtimesecs":
			if cur != nil {
				return Config{}, fmt.Errorf("config: avgHandTimeSecs must be defined outside of game blocks")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get dealer average hand time: %s", line)
			}
			conf.AvgHandTimeSecs = v

		case "user":
			if cur != nil {
				return Config{}, fmt.Errorf("config: users must be defined outside of game blocks")
			}
			name, passwd, ok := splitTwoFields(rest)
			if !ok {
				return Config{}, fmt.Errorf("config: could not get user name and password from: %s", line)
			}
			if _, exists := conf.FindUser(name); exists {
				return Config{}, fmt.Errorf("config: duplicate user %s", name)
			}
			conf.Users = append(conf.Users, UserSpec{Name: name, Password: passwd, WaitStart: time.Now()})

		case "game":
			if cur != nil {
				return Config{}, fmt.Errorf("config: can't define a game within another game block")
			}
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return Config{}, fmt.Errorf("config: could not get game name from: %s", line)
			}
			gameFile := fields[0]
			if _, exists := conf.FindGame(gameFile); exists {
				return Config{}, fmt.Errorf("config: game %s has already been used", gameFile)
			}
			def, err := loadGame(gameFile)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not read game %s: %w", gameFile, err)
			}
			gc := newGameConfig()
			gc.GameFile = gameFile
			gc.Def = def
			conf.Games = append(conf.Games, gc)
			cur = &conf.Games[len(conf.Games)-1]

		case "}":
			if cur == nil {
				return Config{}, fmt.Errorf("config: unmatched } outside of a game block")
			}
			cur = nil

		case "maxmatchruns":
			if cur == nil {
				return Config{}, fmt.Errorf("config: maxMatchRuns must be defined within a game block")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get maximum number of runs in a match from: %s", line)
			}
			cur.MaxMatchRuns = v

		case "maxrunningjobs":
			if cur == nil {
				return Config{}, fmt.Errorf("config: maxRunningJobs must be defined within a game block")
			}
			v, err := parseU16(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get maximum number of running jobs from: %s", line)
			}
			cur.MaxRunningJobs = v

		case "matchhands":
			if cur == nil {
				return Config{}, fmt.Errorf("config: matchHands must be defined within a game block")
			}
			v, err := parseU32(rest)
			if err != nil {
				return Config{}, fmt.Errorf("config: could not get number of hands in a match from: %s", line)
			}
			cur.MatchHands = v

		case "bot":
			if cur == nil {
				return Config{}, fmt.Errorf("config: bot must be defined within a game block")
			}
			name, command, ok := splitTwoFields(rest)
			if !ok {
				return Config{}, fmt.Errorf("config: could not get bot name and command from: %s", line)
			}
			if name == LocalPlayerName {
				return Config{}, fmt.Errorf("config: %s is a reserved bot name", LocalPlayerName)
			}
			if _, exists := cur.FindBot(name); exists {
				return Config{}, fmt.Errorf("config: duplicate bot %s", name)
			}
			cur.Bots = append(cur.Bots, BotSpec{Name: name, Command: command})

		default:
			return Config{}, fmt.Errorf("config: unknown configuration option %s", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: read error: %w", err)
	}
	if cur != nil {
		return Config{}, fmt.Errorf("config: unterminated game block for %s", cur.GameFile)
	}

	return conf, nil
}

// splitKeyword separates a config line into its leading keyword (or the
// single-character "}" block terminator) and the remainder of the line.
func splitKeyword(line string) (key, rest string) {
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "}") {
		return "}", strings.TrimSpace(trimmed[1:])
	}
	i := strings.IndexAny(trimmed, " \t")
	if i < 0 {
		return trimmed, ""
	}
	return trimmed[:i], trimmed[i+1:]
}

func splitTwoFields(s string) (a, b string, ok bool) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func parseU16(s string) (uint16, error) {
	fields := strings.Fields(s)
	if len(fields) < 1 {
		return 0, fmt.Errorf("missing value")
	}
	v, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseU32(s string) (uint32, error) {
	fields := strings.Fields(s)
	if len(fields) < 1 {
		return 0, fmt.Errorf("missing value")
	}
	v, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
