package exception

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "squeedr/internal/log"
	"squeedr/internal/model"
)

// ErrNotFound is returned when no exception has the requested ID.
var ErrNotFound = errors.New("exception not found")

// Store is the in-memory set of availability exceptions. The zero value is
// not usable; build one with NewStore.
type Store struct {
	mu      sync.RWMutex
	opts    ValidateOptions
	byID    map[string]Exception
	order   []string
	version uint64
}

// NewStore returns an empty store that validates with opts.
func NewStore(opts ValidateOptions) *Store {
	return &Store{
		opts: opts,
		byID: make(map[string]Exception),
	}
}

// Version increases on every successful mutation. Readers use it to key
// derived caches.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Add validates e and stores it, assigning a random ID when e has none.
// The stored value is returned.
func (s *Store) Add(e Exception) (Exception, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil exception", ErrInvalid)
	}
	if e.Meta().ID == "" {
		e = WithID(e, uuid.NewString())
	}
	if err := Validate(e, s.opts); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := e.Meta().ID
	if _, exists := s.byID[id]; exists {
		return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalid, id)
	}
	s.byID[id] = e
	s.order = append(s.order, id)
	s.version++

	appLog.Debug("exception added", "id", id, "kind", string(e.Kind()), "source", e.Meta().Source)
	return e, nil
}

// Update replaces the exception with the same ID, keeping its position.
func (s *Store) Update(e Exception) error {
	if err := Validate(e, s.opts); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := e.Meta().ID
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.byID[id] = e
	s.version++
	return nil
}

// Remove deletes the exception with the given ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
	s.version++
	return nil
}

// Get returns the exception with the given ID.
func (s *Store) Get(id string) (Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// List returns all exceptions in insertion order.
func (s *Store) List() []Exception {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Exception, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// ReplaceSource swaps every exception tagged with source for incoming.
// Invalid incoming records are skipped and reported in the returned error;
// the valid ones are still applied.
func (s *Store) ReplaceSource(source string, incoming []Exception) error {
	if source == "" {
		return fmt.Errorf("%w: empty source", ErrInvalid)
	}

	var errs []error
	accepted := make([]Exception, 0, len(incoming))
	seen := make(map[string]bool, len(incoming))
	for _, e := range incoming {
		if e == nil {
			continue
		}
		e = WithSource(e, source)
		if err := Validate(e, s.opts); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", source, e.Meta().ID, err))
			continue
		}
		if seen[e.Meta().ID] {
			continue
		}
		seen[e.Meta().ID] = true
		accepted = append(accepted, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.byID[id].Meta().Source == source {
			delete(s.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	for _, e := range accepted {
		id := e.Meta().ID
		if cur, exists := s.byID[id]; exists {
			errs = append(errs, fmt.Errorf("%s/%s: id taken by source %q", source, id, cur.Meta().Source))
			continue
		}
		s.byID[id] = e
		s.order = append(s.order, id)
	}
	s.version++

	appLog.Info("exception source replaced", "source", source, "count", len(accepted), "rejected", len(errs))
	return errors.Join(errs...)
}

// Classify marks the dates in [from, to] blocked by the stored exceptions.
func (s *Store) Classify(from, to time.Time) []model.MarkedDate {
	return Classify(s.List(), from, to)
}

// Covering returns the stored exceptions that block date.
func (s *Store) Covering(date time.Time) []Exception {
	var out []Exception
	for _, e := range s.List() {
		if Covers(e, date) {
			out = append(out, e)
		}
	}
	return out
}
