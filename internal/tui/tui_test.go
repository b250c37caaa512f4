package tui

import (
	"errors"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/client"
	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

type placedBet struct {
	kind       round.Kind
	selection  string
	stake      int64
	multiplier int64
}

type fakeBackend struct {
	view     client.View
	timeLeft time.Duration
	betErr   error
	bets     []placedBet
	modes    []round.Mode
	begins   int
	ends     int
}

func (f *fakeBackend) PlaceBet(kind round.Kind, selection string, stake, multiplier int64) error {
	if f.betErr != nil {
		return f.betErr
	}
	f.bets = append(f.bets, placedBet{kind, selection, stake, multiplier})
	return nil
}

func (f *fakeBackend) SwitchMode(mode round.Mode) error {
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeBackend) BeginPresentation()      { f.begins++ }
func (f *fakeBackend) EndPresentation()        { f.ends++ }
func (f *fakeBackend) View() client.View       { return f.view }
func (f *fakeBackend) TimeLeft() time.Duration { return f.timeLeft }

func newTestModel(t *testing.T) (*TUIModel, *fakeBackend) {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	backend := &fakeBackend{
		view: client.View{
			Conn:    client.Synced,
			Mode:    "30sec",
			Balance: 1000,
			Round:   round.Round{ID: "rnd_1", Mode: "30sec", Status: round.StatusBetting},
		},
		timeLeft: 23 * time.Second,
	}
	m := NewTUIModel(backend, logger, Options{DefaultStake: 10, RevealDuration: time.Second, NoColor: true})
	return m, backend
}

func submit(m *TUIModel, line string) tea.Cmd {
	m.betInput.SetValue(line)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func result(id string, v int) protocol.RoundResultData {
	return protocol.RoundResultData{
		EventHeader: protocol.EventHeader{Mode: "30sec", RoundID: id},
		ResultValue: v,
		ResultColor: round.ColorOf(v),
		ResultSize:  round.SizeOf(v),
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr bool
	}{
		{line: "bet red 100 x5", want: Command{Type: CommandBet, Kind: round.KindColor, Selection: "red", Stake: 100, Multiplier: 5}},
		{line: "bet big 50", want: Command{Type: CommandBet, Kind: round.KindSize, Selection: "big", Stake: 50, Multiplier: 1}},
		{line: "b 7 20 x2", want: Command{Type: CommandBet, Kind: round.KindNumber, Selection: "7", Stake: 20, Multiplier: 2}},
		{line: "BET Violet", want: Command{Type: CommandBet, Kind: round.KindColor, Selection: "violet", Stake: 10, Multiplier: 1}},
		{line: "bet small x10", want: Command{Type: CommandBet, Kind: round.KindSize, Selection: "small", Stake: 10, Multiplier: 10}},
		{line: "mode 1min", want: Command{Type: CommandMode, Mode: "1min"}},
		{line: "quit", want: Command{Type: CommandQuit}},
		{line: "help", want: Command{Type: CommandHelp}},
		{line: "   ", want: Command{Type: CommandNone}},
		{line: "bet blue 10", wantErr: true},
		{line: "bet 12 10", wantErr: true},
		{line: "bet red -5", wantErr: true},
		{line: "bet red 10 x0", wantErr: true},
		{line: "bet", wantErr: true},
		{line: "mode", wantErr: true},
		{line: "fold", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line, 10)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "00:23", FormatCountdown(23*time.Second))
	assert.Equal(t, "00:23", FormatCountdown(22*time.Second+100*time.Millisecond))
	assert.Equal(t, "01:00", FormatCountdown(time.Minute))
	assert.Equal(t, "00:00", FormatCountdown(-time.Second))
}

func TestCommandsDriveBackend(t *testing.T) {
	m, backend := newTestModel(t)

	submit(m, "bet red 100 x5")
	require.Len(t, backend.bets, 1)
	assert.Equal(t, placedBet{round.KindColor, "red", 100, 5}, backend.bets[0])

	submit(m, "mode 1min")
	assert.Equal(t, []round.Mode{"1min"}, backend.modes)

	backend.betErr = errors.New("cannot bet now")
	submit(m, "bet 7")
	assert.Contains(t, m.Log()[len(m.Log())-1], "cannot bet now")

	submit(m, "bet blue")
	assert.Contains(t, m.Log()[len(m.Log())-1], "invalid selection")

	cmd := submit(m, "quit")
	assert.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.Empty(t, m.View())
}

func TestTickRederivesCountdown(t *testing.T) {
	m, backend := newTestModel(t)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, m.View(), "00:23")

	backend.timeLeft = 4 * time.Second
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "00:04")
}

func TestRevealPresentation(t *testing.T) {
	m, backend := newTestModel(t)

	_, cmd := m.Update(StateMsg{View: backend.view, Reveals: []protocol.RoundResultData{result("rnd_1", 5), result("rnd_2", 8)}})
	assert.NotNil(t, cmd)
	assert.Equal(t, 1, backend.begins)
	require.NotNil(t, m.presenting)
	assert.Equal(t, "rnd_1", m.presenting.RoundID)

	// A reveal arriving mid-presentation waits its turn.
	m.Update(StateMsg{View: backend.view, Reveals: []protocol.RoundResultData{result("rnd_3", 1)}})
	assert.Equal(t, "rnd_1", m.presenting.RoundID)

	m.Update(revealDoneMsg{})
	assert.Equal(t, "rnd_2", m.presenting.RoundID)
	m.Update(revealDoneMsg{})
	assert.Equal(t, "rnd_3", m.presenting.RoundID)
	assert.Equal(t, 0, backend.ends)

	m.Update(revealDoneMsg{})
	assert.Nil(t, m.presenting)
	assert.Equal(t, 1, backend.ends)
	assert.Equal(t, 1, backend.begins)

	var results int
	for _, entry := range m.Log() {
		if len(entry) >= 6 && entry[:6] == "Result" {
			results++
		}
	}
	assert.Equal(t, 3, results)
}

func TestStateTransitionsAreLogged(t *testing.T) {
	m, backend := newTestModel(t)
	v := backend.view

	v.BetState = client.BetPending
	v.Bet = &round.Bet{ID: "bet_1", Selection: "green", Stake: 100, Multiplier: 1}
	m.Update(StateMsg{View: v})

	v.BetState = client.BetSettled
	v.Settlement = &protocol.BetSettledData{BetID: "bet_1", Won: true, Payout: 190}
	v.Balance = 1090
	m.Update(StateMsg{View: v})

	v.LastError = &protocol.ErrorData{Code: "round_closed", Message: "round closed"}
	m.Update(StateMsg{View: v})
	m.Update(StateMsg{View: v})

	assert.Equal(t, []string{
		"Bet accepted: 100 x1 on green",
		"You won 190",
		"Error round_closed: round closed",
	}, m.Log())

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, m.View(), "Balance: 1090")
}
