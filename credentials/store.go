package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/internal/utils"
	"github.com/jrsteele09/elearn-session/storage"
)

// Fixed slot keys for the credential pair.
const (
	AccessTokenKey  = "elearn.access_token"
	RefreshTokenKey = "elearn.refresh_token"
	ExpiresAtKey    = "elearn.expires_at"
)

var allKeys = []string{AccessTokenKey, RefreshTokenKey, ExpiresAtKey}

// Store is the only writer of credential bytes. It persists through a
// storage.Slots backend and keeps an in-memory copy. When the backend fails
// the store logs once and carries on in memory for the rest of the process;
// none of its methods return storage errors.
type Store struct {
	slots    storage.Slots
	log      zerolog.Logger
	lock     sync.Mutex
	current  *Credential
	loaded   bool
	degraded bool
}

// NewStore creates a store over slots. A nil slots starts degraded.
func NewStore(slots storage.Slots, logger zerolog.Logger) *Store {
	s := &Store{
		slots: slots,
		log:   logger.With().Str("component", "credentials").Logger(),
	}
	if slots == nil {
		s.degraded = true
		s.loaded = true
	}
	return s
}

// Save replaces the held credential.
func (s *Store) Save(ctx context.Context, c Credential) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.saveLocked(ctx, c)
}

// CompareAndSave stores c only while the held refresh token still equals
// expectedRefresh. It returns false when the credential was cleared or
// replaced in the meantime, e.g. by a logout racing a refresh.
func (s *Store) CompareAndSave(ctx context.Context, expectedRefresh string, c Credential) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.loaded {
		s.current = s.read(ctx)
		s.loaded = true
	}
	if s.current == nil || s.current.IsZero() || s.current.RefreshToken != expectedRefresh {
		return false
	}
	s.saveLocked(ctx, c)
	return true
}

func (s *Store) saveLocked(ctx context.Context, c Credential) {
	cp := c
	s.current = &cp
	s.loaded = true

	if s.degraded {
		return
	}

	expires := []byte{}
	if c.ExpiresAtHint != nil {
		expires = []byte(c.ExpiresAtHint.UTC().Format(time.RFC3339Nano))
	}
	if err := s.slots.SetMany(ctx, map[string][]byte{
		AccessTokenKey:  []byte(c.AccessToken),
		RefreshTokenKey: []byte(c.RefreshToken),
		ExpiresAtKey:    expires,
	}); err != nil {
		s.degrade(err, "save")
	}
}

// Load returns the held credential, reading durable storage on first use.
func (s *Store) Load(ctx context.Context) (Credential, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.loaded {
		s.current = s.read(ctx)
		s.loaded = true
	}
	if s.current == nil || s.current.IsZero() {
		return Credential{}, false
	}
	return *s.current, true
}

// Clear drops all three fields. The in-memory copy goes first so no reader
// can observe a half-cleared credential.
func (s *Store) Clear(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.current = nil
	s.loaded = true

	if s.slots == nil {
		return
	}
	// Attempted even when degraded so a stale durable copy does not outlive logout.
	if err := s.slots.Delete(ctx, allKeys...); err != nil && !s.degraded {
		s.degrade(err, "clear")
	}
}

// Degraded reports whether persistence has been abandoned for this process.
func (s *Store) Degraded() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.degraded
}

func (s *Store) read(ctx context.Context) *Credential {
	if s.degraded {
		return nil
	}

	access, err := s.slots.Get(ctx, AccessTokenKey)
	if errors.Is(err, errors.ErrSlotNotFound) {
		return nil
	}
	if err != nil {
		s.degrade(err, "load")
		return nil
	}

	refresh, err := s.slots.Get(ctx, RefreshTokenKey)
	if err != nil && !errors.Is(err, errors.ErrSlotNotFound) {
		s.degrade(err, "load")
		return nil
	}

	c := &Credential{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
	}
	if raw, err := s.slots.Get(ctx, ExpiresAtKey); err == nil && len(raw) > 0 {
		if t, perr := time.Parse(time.RFC3339Nano, string(raw)); perr == nil {
			c.ExpiresAtHint = utils.Ptr(t)
		}
	}
	return c
}

func (s *Store) degrade(err error, op string) {
	s.degraded = true
	s.log.Warn().
		Err(err).
		Str("op", op).
		Bool("storage_unavailable", errors.Is(err, errors.ErrStorageUnavailable)).
		Msg("credential persistence unavailable, continuing in memory")
}
