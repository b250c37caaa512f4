package server

import (
	"fmt"

	"github.com/lox/wingo/internal/archive"
	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

func header(m engine.EventMeta) protocol.EventHeader {
	return protocol.EventHeader{Mode: m.Mode, RoundID: m.RoundID, Seq: m.Seq}
}

func roundResultData(ev engine.RoundResult) protocol.RoundResultData {
	return protocol.RoundResultData{
		EventHeader: header(ev.EventMeta),
		ResultValue: ev.ResultValue,
		ResultColor: ev.ResultColor,
		ResultSize:  ev.ResultSize,
		Seed:        ev.Seed,
		SeedHash:    ev.SeedHash,
	}
}

// eventMessage converts an engine event into its wire message.
func eventMessage(ev engine.Event) (*protocol.Message, error) {
	switch e := ev.(type) {
	case engine.RoundUpdate:
		return protocol.NewMessage(protocol.TypeRoundUpdate, protocol.RoundUpdateData{
			EventHeader: header(e.EventMeta),
			Status:      e.Status,
			StartTime:   e.StartTime,
			EndTime:     e.EndTime,
			SeedHash:    e.SeedHash,
		})
	case engine.RoundResult:
		return protocol.NewMessage(protocol.TypeRoundResult, roundResultData(e))
	case engine.TimerUpdate:
		return protocol.NewMessage(protocol.TypeTimerUpdate, protocol.TimerUpdateData{
			EventHeader:     header(e.EventMeta),
			TimeLeftSeconds: e.TimeLeftSeconds,
		})
	case engine.BetSettled:
		return protocol.NewMessage(protocol.TypeBetSettled, protocol.BetSettledData{
			EventHeader: header(e.EventMeta),
			BetID:       e.BetID,
			Won:         e.Won,
			Payout:      e.Payout,
		})
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

func currentRoundData(mode round.Mode, snap engine.Snapshot) protocol.CurrentRoundData {
	data := protocol.CurrentRoundData{
		Mode:            mode,
		Round:           snap.Round,
		Seq:             snap.Seq,
		ServerTime:      snap.ServerTime,
		TimeLeftSeconds: snap.TimeLeftSeconds,
		Bet:             snap.Bet,
	}
	if snap.LastResult != nil {
		last := roundResultData(*snap.LastResult)
		data.LastResult = &last
	}
	return data
}

func historyData(mode round.Mode, summaries []archive.Summary) protocol.HistoryData {
	data := protocol.HistoryData{Mode: mode, Rounds: make([]protocol.HistoryEntry, 0, len(summaries))}
	for _, s := range summaries {
		r := s.Round
		if !r.HasResult() {
			continue
		}
		data.Rounds = append(data.Rounds, protocol.HistoryEntry{
			RoundID:     r.ID,
			StartTime:   r.StartTime,
			EndTime:     r.EndTime,
			ResultValue: *r.Result,
			ResultColor: r.Color(),
			ResultSize:  r.Size(),
			Bets:        s.Bets,
			Staked:      s.Staked,
			Paid:        s.Paid,
			SeedHash:    r.SeedHash,
			Seed:        r.Seed,
		})
	}
	return data
}

func betRequest(userID string, data protocol.PlaceBetData) engine.BetRequest {
	return engine.BetRequest{
		UserID:     userID,
		Mode:       data.Mode,
		RoundID:    data.RoundID,
		Kind:       data.Kind,
		Selection:  data.Selection,
		Stake:      data.Stake,
		Multiplier: data.Multiplier,
	}
}

func modesData(cfg engine.Config) protocol.ModesData {
	data := protocol.ModesData{
		MinBet:      cfg.MinBet,
		MaxBet:      cfg.MaxBet,
		Multipliers: append([]int64(nil), cfg.Multipliers...),
	}
	for _, m := range cfg.Modes {
		data.Modes = append(data.Modes, protocol.ModeInfo{
			Name:            m.Name,
			DurationSeconds: int(m.Duration.Seconds()),
		})
	}
	return data
}
