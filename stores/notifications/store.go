package notifications

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/storage"
	"github.com/jrsteele09/elearn-session/stores"
	"github.com/jrsteele09/elearn-session/users"
)

// SlotKey is the persistence slot of the notification store.
const SlotKey = "elearn.notifications"

// Preferences are the user's delivery choices. They are device preferences
// and survive identity changes.
type Preferences struct {
	Email      bool     `json:"email"`
	Push       bool     `json:"push"`
	MutedKinds []string `json:"mutedKinds,omitempty"`
}

// Persisted is the durable slice of the store. Notification bodies are
// never persisted.
type Persisted struct {
	OwnerID     string      `json:"ownerId,omitempty"`
	ReadIDs     []string    `json:"readIds,omitempty"`
	Filters     Filters     `json:"filters"`
	Preferences Preferences `json:"preferences"`
}

// Store caches the current identity's notifications. Unlike the catalogue,
// the bulk data itself belongs to the identity and is dropped on re-key.
type Store struct {
	slots storage.Slots
	log   zerolog.Logger

	lock    sync.RWMutex
	items   *stores.List[Notification]
	ownerID string
	readIDs map[string]struct{}
	filters Filters
	prefs   Preferences
}

func NewStore(slots storage.Slots, logger zerolog.Logger) *Store {
	return &Store{
		slots:   slots,
		log:     logger.With().Str("component", "notifications").Logger(),
		items:   stores.NewList(func(n Notification) string { return n.ID }),
		readIDs: make(map[string]struct{}),
		prefs:   Preferences{Email: true, Push: true},
	}
}

// Load rehydrates the persisted slice.
func (s *Store) Load(ctx context.Context) {
	var p Persisted
	if !stores.LoadJSON(ctx, s.slots, SlotKey, &p, s.log) {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.filters = p.Filters
	s.prefs = p.Preferences
	s.ownerID = p.OwnerID
	s.readIDs = make(map[string]struct{}, len(p.ReadIDs))
	if p.OwnerID == "" {
		return
	}
	for _, id := range p.ReadIDs {
		s.readIDs[id] = struct{}{}
	}
}

// IdentityChanged drops the inbox and read flags when next is not the
// recorded owner.
func (s *Store) IdentityChanged(ctx context.Context, _, next *users.Identity) {
	nextID := ""
	if next != nil {
		nextID = next.ID
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == nextID {
		return
	}
	s.items.Clear()
	s.readIDs = make(map[string]struct{})
	s.ownerID = nextID
	s.persistLocked(ctx)

	s.log.Debug().Bool("authenticated", nextID != "").Msg("notifications re-keyed")
}

func (s *Store) OwnerID() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.ownerID
}

// ReplaceAll installs a fresh inbox fetched on behalf of owner. Data for an
// identity that no longer owns the store is dropped. Entries the backend
// reports as read are merged into the local read set.
func (s *Store) ReplaceAll(ctx context.Context, owner string, items []Notification) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == "" {
		return stores.ErrNoOwner
	}
	if s.ownerID != owner {
		s.log.Debug().Msg("dropping inbox fetched for a previous identity")
		return stores.ErrOwnerChanged
	}
	s.items.ReplaceAll(items)
	for _, n := range items {
		if n.Read {
			s.readIDs[n.ID] = struct{}{}
		}
	}
	s.pruneReadLocked()
	s.persistLocked(ctx)
	return nil
}

func (s *Store) Add(n Notification) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == "" {
		return stores.ErrNoOwner
	}
	return s.items.Add(n)
}

func (s *Store) Update(id string, fn func(*Notification)) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.items.Update(id, fn)
}

func (s *Store) Remove(ctx context.Context, id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.items.Remove(id) {
		return false
	}
	if _, ok := s.readIDs[id]; ok {
		delete(s.readIDs, id)
		s.persistLocked(ctx)
	}
	return true
}

func (s *Store) Get(id string) (Notification, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	n, ok := s.items.Get(id)
	if !ok {
		return Notification{}, false
	}
	return s.annotate(n), true
}

// All returns the inbox, newest first, with muted kinds removed.
func (s *Store) All() []Notification {
	s.lock.RLock()
	defer s.lock.RUnlock()

	muted := make(map[string]struct{}, len(s.prefs.MutedKinds))
	for _, k := range s.prefs.MutedKinds {
		muted[k] = struct{}{}
	}

	all := s.items.All()
	out := all[:0]
	for _, n := range all {
		if _, ok := muted[n.Kind]; ok {
			continue
		}
		out = append(out, s.annotate(n))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Filtered(f Filters) []Notification {
	return Filter(s.All(), f)
}

func (s *Store) Unread() []Notification {
	return Filter(s.All(), Filters{Unread: true})
}

func (s *Store) UnreadCount() int {
	return len(s.Unread())
}

// MarkRead flags one notification as read.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == "" {
		return stores.ErrNoOwner
	}
	if _, ok := s.items.Get(id); !ok {
		return nil
	}
	if _, ok := s.readIDs[id]; ok {
		return nil
	}
	s.readIDs[id] = struct{}{}
	s.persistLocked(ctx)
	return nil
}

// MarkAllRead flags every held notification as read.
func (s *Store) MarkAllRead(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == "" {
		return stores.ErrNoOwner
	}
	for _, n := range s.items.All() {
		s.readIDs[n.ID] = struct{}{}
	}
	s.persistLocked(ctx)
	return nil
}

func (s *Store) Preferences() Preferences {
	s.lock.RLock()
	defer s.lock.RUnlock()
	p := s.prefs
	p.MutedKinds = append([]string(nil), s.prefs.MutedKinds...)
	return p
}

func (s *Store) SetPreferences(ctx context.Context, p Preferences) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.prefs = p
	s.persistLocked(ctx)
}

func (s *Store) Filters() Filters {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.filters
}

func (s *Store) SetFilters(ctx context.Context, f Filters) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.filters = f
	s.persistLocked(ctx)
}

func (s *Store) annotate(n Notification) Notification {
	_, n.Read = s.readIDs[n.ID]
	return n
}

// pruneReadLocked forgets read flags for notifications no longer held.
func (s *Store) pruneReadLocked() {
	for id := range s.readIDs {
		if _, ok := s.items.Get(id); !ok {
			delete(s.readIDs, id)
		}
	}
}

func (s *Store) persistLocked(ctx context.Context) {
	ids := make([]string, 0, len(s.readIDs))
	for id := range s.readIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	stores.SaveJSON(ctx, s.slots, SlotKey, Persisted{
		OwnerID:     s.ownerID,
		ReadIDs:     ids,
		Filters:     s.filters,
		Preferences: s.prefs,
	}, s.log)
}
