package effects

import (
	"context"

	"github.com/schoolhub/schoolhub/internal/storage"
)

// StoredPreferences keeps the sound toggle in the local sqlite database.
type StoredPreferences struct {
	store *storage.PreferenceStore
}

// NewStoredPreferences wraps a preference store.
func NewStoredPreferences(ps *storage.PreferenceStore) *StoredPreferences {
	return &StoredPreferences{store: ps}
}

// SoundEnabled defaults to true when unset.
func (p *StoredPreferences) SoundEnabled(ctx context.Context) (bool, error) {
	return p.store.Bool(ctx, storage.PrefSoundEnabled, true)
}

// SetSoundEnabled persists the toggle.
func (p *StoredPreferences) SetSoundEnabled(ctx context.Context, enabled bool) error {
	return p.store.SetBool(ctx, storage.PrefSoundEnabled, enabled)
}

// DeviceID identifies this installation to the push server.
func (p *StoredPreferences) DeviceID(ctx context.Context) (string, error) {
	return p.store.DeviceID(ctx)
}
