package stores

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/storage"
)

// LoadJSON decodes the slot at key into v. It returns false when the slot is
// missing, unreadable or corrupt; persistence problems are logged, never
// returned.
func LoadJSON(ctx context.Context, slots storage.Slots, key string, v any, log zerolog.Logger) bool {
	if slots == nil {
		return false
	}
	data, err := slots.Get(ctx, key)
	if errors.Is(err, errors.ErrSlotNotFound) {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("slot", key).Msg("persisted state unavailable")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("slot", key).Msg("discarding corrupt persisted state")
		return false
	}
	return true
}

// SaveJSON encodes v into the slot at key, logging failures.
func SaveJSON(ctx context.Context, slots storage.Slots, key string, v any, log zerolog.Logger) {
	if slots == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("slot", key).Msg("encode persisted state")
		return
	}
	if err := slots.Set(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("slot", key).Msg("persisted state not saved")
	}
}
