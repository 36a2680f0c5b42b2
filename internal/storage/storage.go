// Package storage provides persistence for debates and their transcripts.
package storage

import (
	"github.com/alienxp03/deepdiscussion/internal/core"
)

// Storage defines the interface for debate persistence.
type Storage interface {
	// Initialize sets up the storage (creates tables, etc.)
	Initialize() error

	// Close closes the storage connection.
	Close() error

	// Debate operations
	CreateDebate(debate *core.Debate) error
	GetDebate(id string) (*core.Debate, error)
	UpdateDebate(debate *core.Debate) error
	DeleteDebate(id string) error
	ListDebates(limit, offset int) ([]*core.DebateSummary, error)

	// Entry operations. Entries are append-only and ordered by Seq.
	AddEntry(entry *core.Entry) error
	GetEntries(debateID string) ([]*core.Entry, error)
}
