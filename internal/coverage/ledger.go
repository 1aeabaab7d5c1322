package coverage

import (
	"sync"

	"github.com/feynmanlabs/feynman/internal/topic"
)

// Ledger records, per subtopic, which coverage fields the teacher has
// demonstrated. A subtopic name lives in at most one of the two partitions at
// any time: covered entries are always complete, incomplete entries never
// are. Entries migrate from incomplete to covered exactly when the last
// missing field becomes true, and are never deleted.
type Ledger struct {
	mu         sync.Mutex
	covered    map[string]topic.Subtopic
	incomplete map[string]topic.Subtopic
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		covered:    make(map[string]topic.Subtopic),
		incomplete: make(map[string]topic.Subtopic),
	}
}

// RecordVerdict records an analyzer verdict for a subtopic. A fully true
// verdict upserts into covered and removes any incomplete entry; otherwise
// the verdict upserts into incomplete only. Covered entries are terminal: a
// later partial verdict for a covered subtopic is ignored.
func (l *Ledger) RecordVerdict(name string, def, mech, ex bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := topic.Subtopic{Name: name, HasDefinition: def, HasMechanism: mech, HasExample: ex}
	if s.IsComplete() {
		l.covered[name] = s
		delete(l.incomplete, name)
		return
	}
	if _, done := l.covered[name]; done {
		return
	}
	l.incomplete[name] = s
}

// RecordFieldConfirmed marks a single field as demonstrated after a correctly
// answered question, creating an all-false incomplete entry first if the
// subtopic is unknown, then migrating to covered if now complete.
func (l *Ledger) RecordFieldConfirmed(name string, field topic.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.covered[name]; done {
		return
	}
	s, ok := l.incomplete[name]
	if !ok {
		s = topic.New(name)
	}
	s.Set(field, true)
	if s.IsComplete() {
		l.covered[name] = s
		delete(l.incomplete, name)
		return
	}
	l.incomplete[name] = s
}

// IsCovered reports whether the named subtopic is fully covered.
func (l *Ledger) IsCovered(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.covered[name]
	return ok
}

// CoveredCount returns the number of fully covered subtopics.
func (l *Ledger) CoveredCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.covered)
}

// Snapshot is a read-only view of ledger state for UI and reporting.
type Snapshot struct {
	Covered    []topic.Subtopic `json:"covered"`
	Incomplete []topic.Subtopic `json:"incomplete"`
}

// Snapshot returns a copy of both partitions. Entries within each partition
// are ordered by the order slice where given; names missing from order are
// omitted, a nil order returns entries in map order.
func (l *Ledger) Snapshot(order []string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	var snap Snapshot
	if order == nil {
		for _, s := range l.covered {
			snap.Covered = append(snap.Covered, s)
		}
		for _, s := range l.incomplete {
			snap.Incomplete = append(snap.Incomplete, s)
		}
		return snap
	}
	for _, name := range order {
		if s, ok := l.covered[name]; ok {
			snap.Covered = append(snap.Covered, s)
		}
		if s, ok := l.incomplete[name]; ok {
			snap.Incomplete = append(snap.Incomplete, s)
		}
	}
	return snap
}
