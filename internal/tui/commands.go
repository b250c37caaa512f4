package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lox/wingo/internal/round"
)

var ErrUnknownCommand = errors.New("unknown command")

// CommandType identifies a parsed input line.
type CommandType int

const (
	CommandNone CommandType = iota
	CommandBet
	CommandMode
	CommandHelp
	CommandQuit
)

// Command is a parsed input line.
type Command struct {
	Type       CommandType
	Kind       round.Kind
	Selection  string
	Stake      int64
	Multiplier int64
	Mode       round.Mode
}

// ParseCommand parses lines such as "bet red 100 x5", "bet 7 20",
// "mode 1min" and "quit". A bet without a stake uses defaultStake.
func ParseCommand(line string, defaultStake int64) (Command, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return Command{Type: CommandNone}, nil
	}

	switch fields[0] {
	case "quit", "q", "exit":
		return Command{Type: CommandQuit}, nil
	case "help", "h", "?":
		return Command{Type: CommandHelp}, nil
	case "mode", "m":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: mode <name>")
		}
		return Command{Type: CommandMode, Mode: round.Mode(fields[1])}, nil
	case "bet", "b":
		return parseBet(fields[1:], defaultStake)
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
}

func parseBet(args []string, defaultStake int64) (Command, error) {
	if len(args) == 0 || len(args) > 3 {
		return Command{}, fmt.Errorf("usage: bet <red|green|violet|big|small|0-9> [stake] [xN]")
	}

	cmd := Command{Type: CommandBet, Selection: args[0], Stake: defaultStake, Multiplier: 1}
	switch args[0] {
	case string(round.ColorRed), string(round.ColorGreen), string(round.ColorViolet):
		cmd.Kind = round.KindColor
	case string(round.SizeBig), string(round.SizeSmall):
		cmd.Kind = round.KindSize
	default:
		cmd.Kind = round.KindNumber
	}
	if err := round.ValidateSelection(cmd.Kind, cmd.Selection); err != nil {
		return Command{}, err
	}

	for _, arg := range args[1:] {
		if rest, ok := strings.CutPrefix(arg, "x"); ok {
			m, err := strconv.ParseInt(rest, 10, 64)
			if err != nil || m <= 0 {
				return Command{}, fmt.Errorf("invalid multiplier %q", arg)
			}
			cmd.Multiplier = m
			continue
		}
		stake, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || stake <= 0 {
			return Command{}, fmt.Errorf("invalid stake %q", arg)
		}
		cmd.Stake = stake
	}
	return cmd, nil
}
