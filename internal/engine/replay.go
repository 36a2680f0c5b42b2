package engine

import (
	"errors"
	"fmt"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/critique"
	"github.com/alienxp03/deepdiscussion/internal/ledger"
)

var (
	ErrNoQuestion    = errors.New("transcript does not start with a question")
	ErrNoFinal       = errors.New("transcript has no final solution")
	ErrMultipleFinal = errors.New("transcript has more than one final solution")
	ErrFinalNotLast  = errors.New("final solution is not the last entry")
)

// ReplayResult is the state rebuilt from a transcript.
type ReplayResult struct {
	DebateID string                 `json:"debate_id"`
	Question string                 `json:"question"`
	Roster   []string               `json:"roster"`
	Rounds   int                    `json:"rounds"`
	Reason   core.TerminationReason `json:"reason"`

	// Final is the solution the transcript's own entries lead to.
	Final core.Solution `json:"final"`
	// Ledger is the challenge count derived from the critiques.
	Ledger map[string]int `json:"ledger"`

	// RecordedFinal and RecordedLedger come from the final_solution entry.
	RecordedFinal  core.Solution  `json:"recorded_final"`
	RecordedLedger map[string]int `json:"recorded_ledger"`

	// Consistent is true when the derived and recorded values agree.
	Consistent bool `json:"consistent"`
}

// Replay rebuilds a debate's ledger and final solution from its entries,
// re-parsing every critique with parser (critique.Default when nil). The
// entries must be in recording order.
func Replay(entries []core.Entry, parser *critique.Parser) (*ReplayResult, error) {
	if parser == nil {
		parser = critique.Default()
	}
	if len(entries) == 0 || entries[0].Kind != core.KindQuestion {
		return nil, ErrNoQuestion
	}

	q := entries[0]
	if err := core.ValidateRoster(q.Roster); err != nil {
		return nil, fmt.Errorf("invalid roster in transcript: %w", err)
	}

	res := &ReplayResult{
		DebateID: q.DebateID,
		Question: q.Text,
		Roster:   append([]string(nil), q.Roster...),
	}
	l := ledger.New(q.Roster)

	initial := make(map[string]core.Solution, len(q.Roster))
	initialCritiques := 0
	hostSelected := false
	var host string
	var current core.Solution

	selectHost := func() {
		if hostSelected || initialCritiques < len(q.Roster) {
			return
		}
		hostSelected = true
		host = l.SelectMin()
		current = initial[host]
	}

	var final *core.Entry
	for i := 1; i < len(entries); i++ {
		entry := entries[i]
		if entry.Round > 0 {
			selectHost()
		}
		if entry.Round > res.Rounds {
			res.Rounds = entry.Round
		}

		switch entry.Kind {
		case core.KindProposal:
			if entry.Round == 0 {
				initial[entry.Participant] = entry.Solution()
				continue
			}
			if !entry.Revision {
				host = entry.Participant
			}
			current = entry.Solution()

		case core.KindCritique:
			result := parser.Parse(entry.Text)
			if entry.Round == 0 {
				initialCritiques++
				if result.Severe {
					for _, p := range q.Roster {
						if p != entry.Participant {
							l.Increment(p)
						}
					}
				}
				continue
			}
			if result.Agreement == core.AgreementNo || result.Severe {
				l.Increment(host)
			}

		case core.KindHostChange:
			host = entry.Participant

		case core.KindFinalSolution:
			if final != nil {
				return nil, ErrMultipleFinal
			}
			if i != len(entries)-1 {
				return nil, ErrFinalNotLast
			}
			e := entry
			final = &e
		}
	}

	if final == nil {
		return nil, ErrNoFinal
	}
	selectHost()

	res.Final = current
	res.Ledger = l.Snapshot()
	res.Reason = final.Reason
	if final.Rounds > res.Rounds {
		res.Rounds = final.Rounds
	}
	res.RecordedFinal = final.Solution()
	res.RecordedLedger = final.Ledger
	if res.RecordedLedger == nil {
		res.RecordedLedger = map[string]int{}
	}
	res.Consistent = l.Equal(res.RecordedLedger) && res.Final == res.RecordedFinal

	return res, nil
}
