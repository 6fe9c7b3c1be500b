package queueline

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrEmptyName = errors.New("please enter your name")
var ErrAlreadyQueued = errors.New("you are already in the queue")

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Entrant 待ち行列の1人分のエントリ
type Entrant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinTime time.Time `json:"joinTime"`
}

// QueueStore holds the shared waiting line. Every read and mutation goes
// through one mutex so that client commands and the background sweeps never
// observe a half-applied update.
type QueueStore struct {
	mu       sync.RWMutex
	capacity int
	entrants []Entrant
}

func NewQueueStore(capacity int) *QueueStore {
	return &QueueStore{
		capacity: capacity,
		entrants: []Entrant{},
	}
}

// Join appends a new entrant at the tail. Validation happens before any
// mutation, so a rejected join leaves the line untouched. When the line is
// full the entrant at the front is evicted first and returned to the caller.
func (q *QueueStore) Join(name string) (Entrant, *Entrant, error) {
	if strings.TrimSpace(name) == "" {
		return Entrant{}, nil, ErrEmptyName
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entrants {
		if strings.EqualFold(e.Name, name) {
			return Entrant{}, nil, ErrAlreadyQueued
		}
	}

	var evicted *Entrant
	if len(q.entrants) >= q.capacity {
		front := q.entrants[0]
		q.entrants = q.entrants[1:]
		evicted = &front
	}

	entrant := Entrant{
		ID:       uuid.NewString(),
		Name:     name,
		JoinTime: time.Now(),
	}
	q.entrants = append(q.entrants, entrant)
	return entrant, evicted, nil
}

// Leave removes the entrant with the given id. A missing id is not an error.
func (q *QueueStore) Leave(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return false
	}
	q.entrants = append(q.entrants[:i], q.entrants[i+1:]...)
	return true
}

// Remove is the admin flavor of Leave. The authorization check lives in the
// protocol layer, the list mechanics are identical.
func (q *QueueStore) Remove(id string) bool {
	return q.Leave(id)
}

// Move swaps the entrant with its predecessor or successor. There is no
// wraparound, moving past either end is a no-op.
func (q *QueueStore) Move(id string, direction Direction) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(id)
	if i < 0 {
		return false
	}

	switch direction {
	case DirectionUp:
		if i == 0 {
			return false
		}
		q.entrants[i-1], q.entrants[i] = q.entrants[i], q.entrants[i-1]
	case DirectionDown:
		if i == len(q.entrants)-1 {
			return false
		}
		q.entrants[i], q.entrants[i+1] = q.entrants[i+1], q.entrants[i]
	default:
		return false
	}
	return true
}

// Clear empties the line and reports how many entrants were dropped.
func (q *QueueStore) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entrants)
	q.entrants = []Entrant{}
	return n
}

// Snapshot returns a copy of the current order. Callers may hold on to it
// without blocking further mutations.
func (q *QueueStore) Snapshot() []Entrant {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snapshot := make([]Entrant, len(q.entrants))
	copy(snapshot, q.entrants)
	return snapshot
}

// Reset replaces the whole line, used when restoring a persisted snapshot.
func (q *QueueStore) Reset(entrants []Entrant) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entrants = make([]Entrant, len(entrants))
	copy(q.entrants, entrants)
}

// EvictStale drops every entrant that has waited longer than maxAge and
// returns them. Survivors keep their relative order.
func (q *QueueStore) EvictStale(maxAge time.Duration) []Entrant {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(-maxAge)
	kept := q.entrants[:0:0]
	var removed []Entrant
	for _, e := range q.entrants {
		if e.JoinTime.Before(deadline) {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(removed) > 0 {
		q.entrants = kept
	}
	return removed
}

func (q *QueueStore) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entrants)
}

func (q *QueueStore) indexOf(id string) int {
	for i, e := range q.entrants {
		if e.ID == id {
			return i
		}
	}
	return -1
}
