package scoring

import (
	"match-reftool/internal/domain"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Calculator turns one score into the value summed per team. Performance point
// calculators live outside this module and plug in here.
type Calculator interface {
	Unit() string
	Value(score domain.Score) float64
}

// TotalScore sums raw scores.
type TotalScore struct{}

func (TotalScore) Unit() string                     { return "" }
func (TotalScore) Value(score domain.Score) float64 { return float64(score.TotalScore) }

type Team string

const (
	TeamBlue Team = "blue"
	TeamRed  Team = "red"
)

type RoundTally struct {
	EventID int64   `json:"event_id"`
	RoundID int64   `json:"round_id"`
	Beatmap string  `json:"beatmap"`
	Blue    float64 `json:"blue"`
	Red     float64 `json:"red"`
	Winner  Team    `json:"winner"`
	Message string  `json:"message"`
}

type Scorer struct {
	calc    Calculator
	printer *message.Printer
}

// NewScorer uses TotalScore when calc is nil.
func NewScorer(calc Calculator) *Scorer {
	if calc == nil {
		calc = TotalScore{}
	}
	return &Scorer{calc: calc, printer: message.NewPrinter(language.English)}
}

// Tally scores every completed round in events. Rounds still in progress are
// skipped.
func (s *Scorer) Tally(meta domain.MatchMetadata, events []domain.MatchEvent) []RoundTally {
	tallies := make([]RoundTally, 0)
	for _, ev := range events {
		if !ev.Game.Completed() {
			continue
		}
		tallies = append(tallies, s.round(meta, ev))
	}
	return tallies
}

func (s *Scorer) round(meta domain.MatchMetadata, ev domain.MatchEvent) RoundTally {
	t := RoundTally{
		EventID: ev.ID,
		RoundID: ev.Game.ID,
		Beatmap: ev.Game.Beatmap.DisplayTitle(),
	}
	for _, score := range ev.Game.Scores {
		if Team(score.Team) == TeamRed {
			t.Red += s.calc.Value(score)
		} else {
			t.Blue += s.calc.Value(score)
		}
	}

	// ties go to red
	if t.Blue > t.Red {
		t.Winner = TeamBlue
		t.Message = s.message(meta.BlueTeamName(), t.Blue, meta.RedTeamName(), t.Red)
	} else {
		t.Winner = TeamRed
		t.Message = s.message(meta.RedTeamName(), t.Red, meta.BlueTeamName(), t.Blue)
	}
	return t
}

func (s *Scorer) message(winner string, winnerTotal float64, loser string, loserTotal float64) string {
	unit := s.calc.Unit()
	return s.printer.Sprintf("%s (%.2f%s) : %s (%.2f%s) - %s wins!",
		winner, winnerTotal, unit, loser, loserTotal, unit, winner)
}
