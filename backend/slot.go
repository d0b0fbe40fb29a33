package backend

import (
	"fmt"

	"github.com/unkn0wn-root/feedcache/feed"
)

// Slot is an in-memory single-record staging area for backends without native
// transactions. It tracks the committed record and, while dirty, the staged one.
// Slot is not safe for concurrent use.
type Slot struct {
	committed *Record
	staged    *Record
	dirty     bool
	lastID    int64
}

// Load replaces the committed state, e.g. after reading it from disk, and drops
// anything staged. rec == nil means empty.
func (s *Slot) Load(rec *Record) {
	s.committed = cloneRecord(rec)
	s.staged = nil
	s.dirty = false
	if rec != nil && rec.ID > s.lastID {
		s.lastID = rec.ID
	}
}

// Current returns a copy of the visible record (staged if dirty).
func (s *Slot) Current() (Record, bool) {
	v := s.visible()
	if v == nil {
		return Record{}, false
	}
	return *cloneRecord(v), true
}

// Delete stages removal of rec.
func (s *Slot) Delete(rec Record) error {
	v := s.visible()
	if v == nil || v.ID != rec.ID {
		return fmt.Errorf("%w: id %d", ErrRecordNotFound, rec.ID)
	}
	s.staged = nil
	s.dirty = true
	return nil
}

// Create stages a new record with the next id.
func (s *Slot) Create(snap feed.Snapshot) (Record, error) {
	if v := s.visible(); v != nil {
		return Record{}, fmt.Errorf("%w: id %d", ErrSlotOccupied, v.ID)
	}
	s.lastID++
	s.staged = &Record{ID: s.lastID, Snapshot: snap.Clone()}
	s.dirty = true
	return *cloneRecord(s.staged), nil
}

// Pending reports the state a Commit would persist. dirty is false when there
// is nothing to write.
func (s *Slot) Pending() (rec *Record, dirty bool) {
	if !s.dirty {
		return nil, false
	}
	return cloneRecord(s.staged), true
}

// Promote marks the staged state as committed. Call only after the backend
// has made Pending durable.
func (s *Slot) Promote() {
	if !s.dirty {
		return
	}
	s.committed = s.staged
	s.staged = nil
	s.dirty = false
}

// Discard drops staged changes.
func (s *Slot) Discard() {
	s.staged = nil
	s.dirty = false
}

// Reserve makes the next Create use an id greater than id.
func (s *Slot) Reserve(id int64) {
	if id > s.lastID {
		s.lastID = id
	}
}

// LastID is the highest record id handed out or loaded.
func (s *Slot) LastID() int64 { return s.lastID }

func (s *Slot) visible() *Record {
	if s.dirty {
		return s.staged
	}
	return s.committed
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	return &Record{ID: r.ID, Snapshot: r.Snapshot.Clone()}
}
