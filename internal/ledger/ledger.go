// Package ledger tracks how often each participant's proposal was challenged.
package ledger

import "fmt"

// Ledger holds one non-negative counter per roster participant.
// It is owned by a single debate and is not safe for concurrent use.
type Ledger struct {
	roster []string
	counts map[string]int
}

// New creates a ledger with every roster member at zero. Duplicate ids are
// kept once, at their first position.
func New(roster []string) *Ledger {
	l := &Ledger{counts: make(map[string]int, len(roster))}
	for _, p := range roster {
		if _, ok := l.counts[p]; ok {
			continue
		}
		l.roster = append(l.roster, p)
		l.counts[p] = 0
	}
	return l
}

// Increment adds one to p's count. Unknown participants are ignored.
func (l *Ledger) Increment(p string) {
	if _, ok := l.counts[p]; ok {
		l.counts[p]++
	}
}

// SelectMin returns the participant with the smallest count. Ties go to the
// earliest roster position. An empty ledger returns "".
func (l *Ledger) SelectMin() string {
	best := ""
	for i, p := range l.roster {
		if i == 0 || l.counts[p] < l.counts[best] {
			best = p
		}
	}
	return best
}

// Count returns p's current count.
func (l *Ledger) Count(p string) int {
	return l.counts[p]
}

// Has reports whether p is a roster member.
func (l *Ledger) Has(p string) bool {
	_, ok := l.counts[p]
	return ok
}

// Roster returns the participants in roster order.
func (l *Ledger) Roster() []string {
	out := make([]string, len(l.roster))
	copy(out, l.roster)
	return out
}

// Snapshot returns a copy of all counts.
func (l *Ledger) Snapshot() map[string]int {
	out := make(map[string]int, len(l.counts))
	for p, c := range l.counts {
		out[p] = c
	}
	return out
}

// Equal reports whether counts matches the ledger exactly.
func (l *Ledger) Equal(counts map[string]int) bool {
	if len(counts) != len(l.counts) {
		return false
	}
	for p, c := range l.counts {
		if v, ok := counts[p]; !ok || v != c {
			return false
		}
	}
	return true
}

// String renders the ledger in roster order, e.g. "a=0 b=2".
func (l *Ledger) String() string {
	s := ""
	for i, p := range l.roster {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", p, l.counts[p])
	}
	return s
}
