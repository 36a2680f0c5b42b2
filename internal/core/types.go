// Package core contains the core domain types for deepdiscussion.
package core

import (
	"time"
)

// DebateStatus represents the current status of a stored debate.
type DebateStatus string

const (
	StatusInProgress DebateStatus = "in_progress"
	StatusCompleted  DebateStatus = "completed"
)

// Agreement is the parsed agree/disagree signal of a critique.
type Agreement string

const (
	AgreementYes Agreement = "yes"
	AgreementNo  Agreement = "no"
	// AgreementUnknown marks a verdict with no readable agreement line. The
	// critique parser never produces it: a missing line counts as yes.
	AgreementUnknown Agreement = "unknown"
)

// Valid reports whether a is a known agreement value.
func (a Agreement) Valid() bool {
	switch a {
	case AgreementYes, AgreementNo, AgreementUnknown:
		return true
	}
	return false
}

// CritiqueResult is one participant's parsed response to one proposal.
type CritiqueResult struct {
	Agreement Agreement `json:"agreement"`
	Critique  string    `json:"critique"`
	Severe    bool      `json:"severe"`
}

// Solution is a proposal attributed to one participant in one round.
// Round 0 holds the initial proposals.
type Solution struct {
	Author string `json:"author"`
	Round  int    `json:"round"`
	Text   string `json:"text"`
}

// EntryKind tags a transcript entry.
type EntryKind string

const (
	KindQuestion      EntryKind = "question"
	KindProposal      EntryKind = "proposal"
	KindCritique      EntryKind = "critique"
	KindUserNote      EntryKind = "user_note"
	KindHostChange    EntryKind = "host_change"
	KindFinalSolution EntryKind = "final_solution"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindQuestion, KindProposal, KindCritique, KindUserNote, KindHostChange, KindFinalSolution:
		return true
	}
	return false
}

// TerminationReason says why a debate stopped.
type TerminationReason string

const (
	ReasonConsensus   TerminationReason = "consensus"
	ReasonMaxRounds   TerminationReason = "max_rounds"
	ReasonUserEnded   TerminationReason = "user_ended"
	ReasonInterrupted TerminationReason = "interrupted"
)

// Entry is the append-only unit of a debate transcript.
//
// Which fields are set depends on Kind:
//   - question: Text, Roster
//   - proposal: Participant, Round, Text, Revision
//   - critique: Participant (the critic), Round, Text (raw response),
//     Agreement, Critique, Severe
//   - user_note: Round, Text
//   - host_change: From, Participant (new host), Round, Text (why)
//   - final_solution: Participant (author), Round, Text, Reason, Ledger,
//     Rounds (hosted rounds entered), Host (host at the end)
type Entry struct {
	ID          string            `json:"id"`
	DebateID    string            `json:"debate_id"`
	Seq         int               `json:"seq"`
	Kind        EntryKind         `json:"kind"`
	Participant string            `json:"participant,omitempty"`
	From        string            `json:"from,omitempty"`
	Round       int               `json:"round"`
	Text        string            `json:"text"`
	Revision    bool              `json:"revision,omitempty"`
	Agreement   Agreement         `json:"agreement,omitempty"`
	Critique    string            `json:"critique,omitempty"`
	Severe      bool              `json:"severe,omitempty"`
	Reason      TerminationReason `json:"reason,omitempty"`
	Roster      []string          `json:"roster,omitempty"`
	Ledger      map[string]int    `json:"ledger,omitempty"`
	Rounds      int               `json:"rounds,omitempty"`
	Host        string            `json:"host,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Participant binds a roster id to the model that answers for it.
type Participant struct {
	ID       string `json:"id" yaml:"id"`
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Debate is the stored record of one debate.
type Debate struct {
	ID          string            `json:"id"`
	Question    string            `json:"question"`
	Roster      []string          `json:"roster"`
	Status      DebateStatus      `json:"status"`
	Host        string            `json:"host,omitempty"`
	Rounds      int               `json:"rounds"`
	Reason      TerminationReason `json:"reason,omitempty"`
	Final       string            `json:"final,omitempty"`
	Ledger      map[string]int    `json:"ledger,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// IsCompleted returns true once a final solution was recorded.
func (d *Debate) IsCompleted() bool {
	return d.Status == StatusCompleted
}

// DebateSummary is a lightweight representation for listing debates.
type DebateSummary struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Status     DebateStatus      `json:"status"`
	Reason     TerminationReason `json:"reason,omitempty"`
	Rounds     int               `json:"rounds"`
	Host       string            `json:"host,omitempty"`
	EntryCount int               `json:"entry_count"`
	CreatedAt  time.Time         `json:"created_at"`
}
