// Package store holds the in-memory projection of a tenant's realtime
// state: the notification list with its unread counter, the agent presence
// set and the latest queue snapshot. The store is owned by one mounted
// syncer; reducers are the only mutation entry points and each touches a
// single collection.
package store

import (
	"sync"
	"time"

	"github.com/deskstream/deskstream/internal/model"
)

// Store is a mutex-guarded snapshot of tenant state. Read accessors return
// copies, so callers never observe in-place mutation of a returned slice.
type Store struct {
	mu sync.RWMutex

	notifications []model.Notification
	unread        int

	gen      uint64
	prepends []prependRecord

	agents []model.AgentStatus

	queue    model.QueueSnapshot
	hasQueue bool

	loading bool

	staleAfter time.Duration
	now        func() time.Time
}

// prependRecord remembers which notification a given prepend inserted, so a
// later ReconcileNotifications can tell pushes that raced a fetch apart from
// items the fetched page legitimately dropped.
type prependRecord struct {
	id  string
	gen uint64
}

// maxPrependLog caps the prepend history kept between reconciles.
const maxPrependLog = 256

// DefaultStaleAfter is used when no queue staleness threshold is configured.
const DefaultStaleAfter = 30 * time.Second

// New creates an empty store with the given queue staleness threshold.
func New(staleAfter time.Duration) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Prepend inserts a pushed notification ahead of everything already held
// and bumps the unread counter. Duplicate ids are dropped so a replayed
// push cannot double-count.
func (s *Store) Prepend(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == n.ID {
			return
		}
	}

	list := make([]model.Notification, 0, len(s.notifications)+1)
	list = append(list, n)
	list = append(list, s.notifications...)
	s.notifications = list

	s.gen++
	s.prepends = append(s.prepends, prependRecord{id: n.ID, gen: s.gen})
	if len(s.prepends) > maxPrependLog {
		s.prepends = s.prepends[len(s.prepends)-maxPrependLog:]
	}

	if !n.Read {
		s.unread++
	}
}

// Generation returns a counter that advances on every prepend. A fetch
// snapshots it before hitting the backend and hands it back to
// ReconcileNotifications so the replace only trusts the page for state
// older than the fetch itself.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// SetUnread replaces the unread counter with an authoritative server value.
func (s *Store) SetUnread(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		n = 0
	}
	s.unread = n
}

// MarkRead flips one notification's read flag. The counter is decremented
// only when the flag actually changed, which makes repeated calls for the
// same id a no-op. It reports whether anything changed.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != id {
			continue
		}
		if s.notifications[i].Read {
			return false
		}
		s.notifications[i].Read = true
		if s.unread > 0 {
			s.unread--
		}
		return true
	}
	return false
}

// MarkAllRead sets every read flag and zeroes the counter. List length and
// ordering are unchanged.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	s.unread = 0
}

// Delete removes one notification. The counter is decremented only when
// the removed item was still unread.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != id {
			continue
		}
		if !s.notifications[i].Read && s.unread > 0 {
			s.unread--
		}
		s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
		return true
	}
	return false
}

// ReplaceNotifications swaps in a freshly fetched list and counter. Calling
// it again with the same data is an idempotent replace, not an append.
func (s *Store) ReplaceNotifications(list []model.Notification, unread int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append([]model.Notification(nil), list...)
	if unread < 0 {
		unread = 0
	}
	s.unread = unread
	s.prepends = s.prepends[:0]
}

// ReconcileNotifications applies a fetched page without losing pushes that
// arrived while the fetch was in flight. sinceGen is the Generation value
// snapshotted before the backend call: any notification prepended after it
// that the page does not contain stays at the head of the list, with unread
// bumped for each one still unread. Items the page does contain, and items
// deleted since, are not resurrected.
func (s *Store) ReconcileNotifications(sinceGen uint64, list []model.Notification, unread int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fetched := make(map[string]struct{}, len(list))
	for i := range list {
		fetched[list[i].ID] = struct{}{}
	}
	current := make(map[string]model.Notification, len(s.notifications))
	for i := range s.notifications {
		current[s.notifications[i].ID] = s.notifications[i]
	}

	var kept []model.Notification
	seen := make(map[string]struct{})
	for i := len(s.prepends) - 1; i >= 0 && s.prepends[i].gen > sinceGen; i-- {
		rec := s.prepends[i]
		if _, ok := fetched[rec.id]; ok {
			continue
		}
		if _, ok := seen[rec.id]; ok {
			continue
		}
		n, ok := current[rec.id]
		if !ok {
			continue
		}
		seen[rec.id] = struct{}{}
		kept = append(kept, n)
		if !n.Read {
			unread++
		}
	}

	merged := make([]model.Notification, 0, len(kept)+len(list))
	merged = append(merged, kept...)
	merged = append(merged, list...)
	s.notifications = merged
	if unread < 0 {
		unread = 0
	}
	s.unread = unread
	s.prepends = s.prepends[:0]
}

// Notifications returns a copy of the current list, newest first.
func (s *Store) Notifications() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Notification(nil), s.notifications...)
}

// UnreadCount returns the current unread counter.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// NotificationCount returns the number of notifications held.
func (s *Store) NotificationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications)
}

// AgentCount returns the number of agent records held.
func (s *Store) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// SetAgents replaces the agent set wholesale. Only the initial snapshot
// event goes through here.
func (s *Store) SetAgents(agents []model.AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append([]model.AgentStatus(nil), agents...)
}

// PatchAgent applies a status delta to one agent record in place. Unknown
// agent ids are ignored: deltas never grow or shrink the set. LastActive is
// bumped to now and never moves backwards.
func (s *Store) PatchAgent(agentID string, status model.AgentState, activeChats, totalChats *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.agents {
		if s.agents[i].AgentID != agentID {
			continue
		}
		s.agents[i].Status = status
		if activeChats != nil {
			s.agents[i].ActiveChats = *activeChats
		}
		if totalChats != nil {
			s.agents[i].TotalChats = *totalChats
		}
		if now := s.now(); now.After(s.agents[i].LastActive) {
			s.agents[i].LastActive = now
		}
		return true
	}
	return false
}

// Agents returns a copy of the current agent set.
func (s *Store) Agents() []model.AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AgentStatus(nil), s.agents...)
}

// SetQueue replaces the queue snapshot wholesale, stamping it with the
// local receipt time.
func (s *Store) SetQueue(q model.QueueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q.ReceivedAt = s.now()
	q.Approximate = false
	s.queue = q
	s.hasQueue = true
}

// Queue returns the latest snapshot. When the last server snapshot is older
// than the staleness threshold, a locally derived approximation is returned
// instead: in-progress is recomputed from agent active-chat counts, waiting
// is carried over, and the derived averages are cleared because they cannot
// be reconstructed client-side. The second return value is false until the
// first snapshot (server-sent or derived) exists.
func (s *Store) Queue() (model.QueueSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasQueue {
		return model.QueueSnapshot{}, false
	}

	if s.now().Sub(s.queue.ReceivedAt) <= s.staleAfter {
		return s.queue, true
	}

	inProgress := 0
	for i := range s.agents {
		inProgress += s.agents[i].ActiveChats
	}

	approx := model.QueueSnapshot{
		Waiting:     s.queue.Waiting,
		InProgress:  inProgress,
		Resolved:    s.queue.Resolved,
		Total:       s.queue.Waiting + inProgress,
		ReceivedAt:  s.queue.ReceivedAt,
		Approximate: true,
	}
	return approx, true
}

// SetLoading flips the loading flag gating presentation while a fetch is in
// flight.
func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// Loading returns the loading flag.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}
