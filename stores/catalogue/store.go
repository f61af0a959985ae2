package catalogue

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/storage"
	"github.com/jrsteele09/elearn-session/stores"
	"github.com/jrsteele09/elearn-session/users"
)

// SlotKey is the persistence slot of the catalogue store.
const SlotKey = "elearn.catalogue"

// Persisted is the durable slice of the store: the owner's favorites and
// the filter preferences. Bulk course data is never persisted.
type Persisted struct {
	OwnerID   string   `json:"ownerId,omitempty"`
	Favorites []string `json:"favorites,omitempty"`
	Filters   Filters  `json:"filters"`
}

// Store caches the course catalogue and the current identity's annotations.
type Store struct {
	slots storage.Slots
	log   zerolog.Logger

	lock      sync.RWMutex
	courses   *stores.List[Course]
	ownerID   string
	favorites map[string]struct{}
	progress  map[string]int
	filters   Filters
}

func NewStore(slots storage.Slots, logger zerolog.Logger) *Store {
	return &Store{
		slots:     slots,
		log:       logger.With().Str("component", "catalogue").Logger(),
		courses:   stores.NewList(func(c Course) string { return c.ID }),
		favorites: make(map[string]struct{}),
		progress:  make(map[string]int),
	}
}

// Load rehydrates the persisted slice. Favorites recorded for an owner come
// back only if that owner is later confirmed by IdentityChanged.
func (s *Store) Load(ctx context.Context) {
	var p Persisted
	if !stores.LoadJSON(ctx, s.slots, SlotKey, &p, s.log) {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.filters = p.Filters
	s.ownerID = p.OwnerID
	s.favorites = make(map[string]struct{}, len(p.Favorites))
	if p.OwnerID == "" {
		return
	}
	for _, id := range p.Favorites {
		s.favorites[id] = struct{}{}
	}
}

// IdentityChanged re-keys the store. When next is not the recorded owner,
// every annotation is dropped, in memory and in the persisted slot, before
// the new owner is recorded.
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
	s.favorites = make(map[string]struct{})
	s.progress = make(map[string]int)
	s.ownerID = nextID
	s.persistLocked(ctx)

	s.log.Debug().Bool("authenticated", nextID != "").Msg("catalogue re-keyed")
}

// OwnerID returns the identity the annotations belong to, or "".
func (s *Store) OwnerID() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.ownerID
}

func (s *Store) ReplaceAll(courses []Course) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.courses.ReplaceAll(courses)
}

func (s *Store) Add(course Course) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.courses.Add(course)
}

// Update edits a course in place. Annotation fields set by fn are ignored;
// use ToggleFavorite and SetProgress for those.
func (s *Store) Update(id string, fn func(*Course)) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.courses.Update(id, fn)
}

func (s *Store) Remove(id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.courses.Remove(id)
}

func (s *Store) Get(id string) (Course, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	c, ok := s.courses.Get(id)
	if !ok {
		return Course{}, false
	}
	return s.annotate(c), true
}

// All returns every course with the current identity's annotations applied.
func (s *Store) All() []Course {
	s.lock.RLock()
	defer s.lock.RUnlock()

	all := s.courses.All()
	for i := range all {
		all[i] = s.annotate(all[i])
	}
	return all
}

// Filtered applies f to the annotated catalogue.
func (s *Store) Filtered(f Filters) []Course {
	return Filter(s.All(), f)
}

// FilteredByPreference applies the saved filter preferences.
func (s *Store) FilteredByPreference() []Course {
	return Filter(s.All(), s.Filters())
}

func (s *Store) Filters() Filters {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.filters
}

// SetFilters saves the filter preferences.
func (s *Store) SetFilters(ctx context.Context, f Filters) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.filters = f
	s.persistLocked(ctx)
}

// ToggleFavorite flips the favorite flag of a course and returns the new
// value. It needs an owning identity.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == "" {
		return false, stores.ErrNoOwner
	}
	_, fav := s.favorites[id]
	if fav {
		delete(s.favorites, id)
	} else {
		s.favorites[id] = struct{}{}
	}
	s.persistLocked(ctx)
	return !fav, nil
}

// Favorites returns the favorite course ids, sorted.
func (s *Store) Favorites() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.favoriteIDsLocked()
}

// SetProgress records percent completion for a course, clamped to 0-100.
// Progress is held in memory only and refetched on load.
func (s *Store) SetProgress(id string, percent int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ownerID == "" {
		return stores.ErrNoOwner
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.progress[id] = percent
	return nil
}

func (s *Store) annotate(c Course) Course {
	_, c.Favorite = s.favorites[c.ID]
	c.Progress = s.progress[c.ID]
	return c
}

func (s *Store) favoriteIDsLocked() []string {
	ids := make([]string, 0, len(s.favorites))
	for id := range s.favorites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) persistLocked(ctx context.Context) {
	stores.SaveJSON(ctx, s.slots, SlotKey, Persisted{
		OwnerID:   s.ownerID,
		Favorites: s.favoriteIDsLocked(),
		Filters:   s.filters,
	}, s.log)
}
