package storage

import (
	"errors"
	"log/slog"
	"time"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

// ErrDebateNotFound is reported when a final solution arrives for an unknown debate.
var ErrDebateNotFound = errors.New("debate not found")

// Recorder persists engine entries as they are recorded. The question entry
// creates the debate row and the final solution completes it.
type Recorder struct {
	store Storage
	err   error
}

// NewRecorder returns a sink writing to store.
func NewRecorder(store Storage) *Recorder {
	return &Recorder{store: store}
}

// Err returns the first persistence error, if any.
func (r *Recorder) Err() error {
	return r.err
}

// Record stores entry. Failures are logged and kept in Err so that a
// storage problem never stops a debate.
func (r *Recorder) Record(entry core.Entry) {
	if entry.Kind == core.KindQuestion {
		now := entry.CreatedAt
		if now.IsZero() {
			now = time.Now()
		}
		debate := &core.Debate{
			ID:        entry.DebateID,
			Question:  entry.Text,
			Roster:    entry.Roster,
			Status:    core.StatusInProgress,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.store.CreateDebate(debate); err != nil {
			r.fail("Failed to create debate", entry, err)
			return
		}
	}

	if err := r.store.AddEntry(&entry); err != nil {
		r.fail("Failed to store entry", entry, err)
		return
	}

	if entry.Kind == core.KindFinalSolution {
		r.complete(entry)
	}
}

func (r *Recorder) complete(entry core.Entry) {
	debate, err := r.store.GetDebate(entry.DebateID)
	if err == nil && debate == nil {
		err = ErrDebateNotFound
	}
	if err != nil {
		r.fail("Failed to load debate", entry, err)
		return
	}

	completed := entry.CreatedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	debate.Status = core.StatusCompleted
	debate.Host = entry.Host
	debate.Rounds = entry.Rounds
	debate.Reason = entry.Reason
	debate.Final = entry.Text
	debate.Ledger = entry.Ledger
	debate.CompletedAt = &completed

	if err := r.store.UpdateDebate(debate); err != nil {
		r.fail("Failed to complete debate", entry, err)
	}
}

func (r *Recorder) fail(msg string, entry core.Entry, err error) {
	slog.Error(msg, "debate_id", entry.DebateID, "seq", entry.Seq, "kind", entry.Kind, "error", err)
	if r.err == nil {
		r.err = err
	}
}
