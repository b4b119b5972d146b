// Package access keeps the wait/white/black lists that gate who may send
// messages through the relay.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/KafClaw/communa/internal/events"
	"github.com/KafClaw/communa/internal/store"
)

// Status is the list a user currently belongs to.
type Status int

const (
	Unknown Status = iota
	Waiting
	Approved
	Blocked
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "wait"
	case Approved:
		return "white"
	case Blocked:
		return "black"
	default:
		return "unknown"
	}
}

// ParseStatus accepts list names as used by the CLI and commands.
func ParseStatus(name string) (Status, bool) {
	switch name {
	case "wait", "waitlist", "waiting":
		return Waiting, true
	case "white", "whitelist", "approved":
		return Approved, true
	case "black", "blacklist", "blocked":
		return Blocked, true
	}
	return Unknown, false
}

var (
	ErrAlreadyApproved = errors.New("user already approved")
	ErrUnknownUser     = errors.New("user is not in any list")
)

// Lists is the persisted document.
type Lists struct {
	White []int64 `json:"white"`
	Black []int64 `json:"black"`
	Wait  []int64 `json:"wait"`
}

// Counts summarises list sizes.
type Counts struct {
	Wait  int
	White int
	Black int
}

// Store is the process-wide access list. Every transition evicts the user
// from the other lists before inserting, so a user is in at most one list.
type Store struct {
	docs   store.Store
	events events.Publisher

	mu      sync.Mutex
	loaded  bool
	members map[int64]Status
}

// NewStore creates a store backed by docs. pub may be nil.
func NewStore(docs store.Store, pub events.Publisher) *Store {
	return &Store{
		docs:    docs,
		events:  pub,
		members: make(map[int64]Status),
	}
}

// Load reads the persisted lists once. Later calls are no-ops; every other
// method loads on first use as well.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	var doc Lists
	err := s.docs.Load(ctx, store.KindAccessLists, &doc)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load access lists: %w", err)
	}
	// A hand-edited document may list an id twice; the most restrictive
	// list wins.
	for _, id := range doc.Wait {
		s.members[id] = Waiting
	}
	for _, id := range doc.White {
		if prev, ok := s.members[id]; ok {
			slog.Warn("AccessStore: user listed twice", "user_id", id, "lists", prev.String()+",white")
		}
		s.members[id] = Approved
	}
	for _, id := range doc.Black {
		if prev, ok := s.members[id]; ok {
			slog.Warn("AccessStore: user listed twice", "user_id", id, "lists", prev.String()+",black")
		}
		s.members[id] = Blocked
	}
	s.loaded = true
	slog.Info("AccessStore: loaded", "wait", len(doc.Wait), "white", len(doc.White), "black", len(doc.Black))
	return nil
}

// Resolve returns the list the user is in.
func (s *Store) Resolve(ctx context.Context, id int64) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return Unknown, err
	}
	return s.members[id], nil
}

// Enqueue puts an unknown user on the wait list. Users already in a list
// are left alone. The prior status is returned.
func (s *Store) Enqueue(ctx context.Context, id int64) (Status, error) {
	return s.transition(ctx, id, func(prior Status) (Status, error) {
		if prior == Unknown {
			return Waiting, nil
		}
		return prior, nil
	})
}

// Approve moves a waiting or blocked user to the white list.
func (s *Store) Approve(ctx context.Context, id int64) (Status, error) {
	return s.transition(ctx, id, func(prior Status) (Status, error) {
		switch prior {
		case Approved:
			return prior, ErrAlreadyApproved
		case Unknown:
			return prior, ErrUnknownUser
		}
		return Approved, nil
	})
}

// Block moves a user to the black list regardless of prior state.
func (s *Store) Block(ctx context.Context, id int64) (Status, error) {
	return s.transition(ctx, id, func(Status) (Status, error) {
		return Blocked, nil
	})
}

// Forget removes a user from every list.
func (s *Store) Forget(ctx context.Context, id int64) (Status, error) {
	return s.transition(ctx, id, func(Status) (Status, error) {
		return Unknown, nil
	})
}

// List returns the sorted members of one list.
func (s *Store) List(ctx context.Context, status Status) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	var ids []int64
	for id, st := range s.members {
		if st == status {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Counts returns the size of each list.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return Counts{}, err
	}
	var c Counts
	for _, st := range s.members {
		switch st {
		case Waiting:
			c.Wait++
		case Approved:
			c.White++
		case Blocked:
			c.Black++
		}
	}
	return c, nil
}

func (s *Store) transition(ctx context.Context, id int64, next func(prior Status) (Status, error)) (Status, error) {
	prior, to, err := s.apply(ctx, id, next)
	if err != nil || to == prior {
		return prior, err
	}
	slog.Info("AccessStore: transition", "user_id", id, "from", prior.String(), "to", to.String())
	events.Emit(ctx, s.events, events.Event{Type: eventType(to), UserID: id})
	return prior, nil
}

// apply changes the user's list and persists the result under the mutex.
// The change is rolled back when the write fails.
func (s *Store) apply(ctx context.Context, id int64, next func(prior Status) (Status, error)) (Status, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return Unknown, Unknown, err
	}
	prior := s.members[id]
	to, err := next(prior)
	if err != nil || to == prior {
		return prior, prior, err
	}
	s.setLocked(id, to)
	if err := s.docs.Save(ctx, store.KindAccessLists, s.snapshotLocked()); err != nil {
		s.setLocked(id, prior)
		return prior, prior, fmt.Errorf("persist access lists: %w", err)
	}
	return prior, to, nil
}

func (s *Store) setLocked(id int64, st Status) {
	if st == Unknown {
		delete(s.members, id)
		return
	}
	s.members[id] = st
}

func (s *Store) snapshotLocked() Lists {
	doc := Lists{White: []int64{}, Black: []int64{}, Wait: []int64{}}
	for id, st := range s.members {
		switch st {
		case Waiting:
			doc.Wait = append(doc.Wait, id)
		case Approved:
			doc.White = append(doc.White, id)
		case Blocked:
			doc.Black = append(doc.Black, id)
		}
	}
	slices.Sort(doc.Wait)
	slices.Sort(doc.White)
	slices.Sort(doc.Black)
	return doc
}

func eventType(st Status) string {
	switch st {
	case Waiting:
		return events.TypeUserWaiting
	case Approved:
		return events.TypeUserApproved
	case Blocked:
		return events.TypeUserBlocked
	default:
		return events.TypeUserForgotten
	}
}
