package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Initialize(); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	return store
}

func TestSQLiteStorage(t *testing.T) {
	store := newTestStorage(t)

	t.Run("CreateAndGetDebate", func(t *testing.T) {
		now := time.Now()
		debate := &core.Debate{
			ID:        "test-debate-1",
			Question:  "如何提高代码质量?",
			Roster:    []string{"a", "b", "c"},
			Status:    core.StatusInProgress,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := store.CreateDebate(debate); err != nil {
			t.Fatalf("failed to create debate: %v", err)
		}

		got, err := store.GetDebate(debate.ID)
		if err != nil {
			t.Fatalf("failed to get debate: %v", err)
		}
		if got == nil {
			t.Fatal("debate not found")
		}
		if got.Question != debate.Question {
			t.Errorf("Question mismatch: got %s, want %s", got.Question, debate.Question)
		}
		if len(got.Roster) != 3 || got.Roster[2] != "c" {
			t.Errorf("Roster mismatch: got %v", got.Roster)
		}
		if got.Ledger != nil {
			t.Errorf("expected nil ledger, got %v", got.Ledger)
		}
		if got.CompletedAt != nil {
			t.Errorf("expected nil CompletedAt")
		}
	})

	t.Run("UpdateDebate", func(t *testing.T) {
		debate, _ := store.GetDebate("test-debate-1")
		done := time.Now()
		debate.Status = core.StatusCompleted
		debate.Reason = core.ReasonConsensus
		debate.Final = "方案"
		debate.Host = "b"
		debate.Rounds = 2
		debate.Ledger = map[string]int{"a": 1, "b": 0, "c": 2}
		debate.CompletedAt = &done

		if err := store.UpdateDebate(debate); err != nil {
			t.Fatalf("failed to update debate: %v", err)
		}

		got, _ := store.GetDebate(debate.ID)
		if !got.IsCompleted() || got.Reason != core.ReasonConsensus || got.Host != "b" || got.Rounds != 2 {
			t.Errorf("debate not updated: %+v", got)
		}
		if got.Ledger["c"] != 2 {
			t.Errorf("ledger not stored: %v", got.Ledger)
		}
		if got.CompletedAt == nil {
			t.Errorf("CompletedAt not stored")
		}
	})

	t.Run("UpdateMissingDebate", func(t *testing.T) {
		if err := store.UpdateDebate(&core.Debate{ID: "missing"}); err == nil {
			t.Fatal("expected error updating missing debate")
		}
	})

	t.Run("AddAndGetEntries", func(t *testing.T) {
		entries := []*core.Entry{
			{ID: "e-2", DebateID: "test-debate-1", Seq: 2, Kind: core.KindCritique, Participant: "a", Text: "同意: 否", Agreement: core.AgreementNo, Critique: "严重不足", Severe: true, CreatedAt: time.Now()},
			{ID: "e-1", DebateID: "test-debate-1", Seq: 1, Kind: core.KindQuestion, Text: "q", Roster: []string{"a", "b"}, CreatedAt: time.Now()},
			{ID: "e-3", DebateID: "test-debate-1", Seq: 3, Kind: core.KindFinalSolution, Participant: "b", Round: 2, Text: "方案", Reason: core.ReasonMaxRounds, Ledger: map[string]int{"a": 1}, CreatedAt: time.Now()},
		}
		for _, e := range entries {
			if err := store.AddEntry(e); err != nil {
				t.Fatalf("failed to add entry %s: %v", e.ID, err)
			}
		}

		got, err := store.GetEntries("test-debate-1")
		if err != nil {
			t.Fatalf("failed to get entries: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("wrong number of entries: got %d, want 3", len(got))
		}
		for i, e := range got {
			if e.Seq != i+1 {
				t.Errorf("entries not in seq order: %d at %d", e.Seq, i)
			}
		}
		if !got[1].Severe || got[1].Agreement != core.AgreementNo {
			t.Errorf("critique fields lost: %+v", got[1])
		}
		if len(got[0].Roster) != 2 {
			t.Errorf("roster lost: %+v", got[0])
		}
		if got[2].Reason != core.ReasonMaxRounds || got[2].Ledger["a"] != 1 {
			t.Errorf("final fields lost: %+v", got[2])
		}
	})

	t.Run("DuplicateSeqRejected", func(t *testing.T) {
		err := store.AddEntry(&core.Entry{ID: "e-dup", DebateID: "test-debate-1", Seq: 1, Kind: core.KindUserNote, CreatedAt: time.Now()})
		if err == nil {
			t.Fatal("expected duplicate seq to be rejected")
		}
	})

	t.Run("ListDebates", func(t *testing.T) {
		summaries, err := store.ListDebates(10, 0)
		if err != nil {
			t.Fatalf("failed to list debates: %v", err)
		}
		if len(summaries) != 1 {
			t.Fatalf("wrong number of debates: got %d, want 1", len(summaries))
		}
		if summaries[0].EntryCount != 3 {
			t.Errorf("wrong entry count: got %d, want 3", summaries[0].EntryCount)
		}
	})

	t.Run("DeleteDebate", func(t *testing.T) {
		if err := store.DeleteDebate("test-debate-1"); err != nil {
			t.Fatalf("failed to delete debate: %v", err)
		}

		got, _ := store.GetDebate("test-debate-1")
		if got != nil {
			t.Error("debate still exists after deletion")
		}

		entries, _ := store.GetEntries("test-debate-1")
		if len(entries) != 0 {
			t.Error("entries still exist after debate deletion")
		}
	})

	t.Run("GetNonexistentDebate", func(t *testing.T) {
		got, err := store.GetDebate("nonexistent")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Error("expected nil for nonexistent debate")
		}
	})
}

func TestInitializeAddsFinalEntryColumns(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "legacy.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer store.Close()

	legacy := `
	CREATE TABLE entries (
		id TEXT PRIMARY KEY,
		debate_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		participant TEXT NOT NULL DEFAULT '',
		from_participant TEXT NOT NULL DEFAULT '',
		round INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 0,
		agreement TEXT NOT NULL DEFAULT '',
		critique TEXT NOT NULL DEFAULT '',
		severe INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		roster_json TEXT,
		ledger_json TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE (debate_id, seq)
	);`
	if _, err := store.db.Exec(legacy); err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}

	if err := store.Initialize(); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	// A second run finds the columns and leaves them alone.
	if err := store.Initialize(); err != nil {
		t.Fatalf("failed to re-initialize: %v", err)
	}

	now := time.Now()
	if err := store.CreateDebate(&core.Debate{ID: "d1", Question: "q", Roster: []string{"a", "b"}, Status: core.StatusInProgress, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("failed to create debate: %v", err)
	}
	final := &core.Entry{ID: "e1", DebateID: "d1", Seq: 1, Kind: core.KindFinalSolution, Participant: "a", Text: "x", Rounds: 3, Host: "b", CreatedAt: now}
	if err := store.AddEntry(final); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	entries, err := store.GetEntries("d1")
	if err != nil {
		t.Fatalf("failed to get entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Rounds != 3 || entries[0].Host != "b" {
		t.Errorf("final entry fields not stored: %+v", entries[0])
	}
}
