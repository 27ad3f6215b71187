// Copyright 2026 The Authgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Repository defines the persistence contract for settings.
type Repository interface {
	// GetAll loads every persisted setting.
	GetAll(ctx context.Context) (map[string]any, error)

	// Get loads a single setting. The bool reports presence.
	Get(ctx context.Context, key string) (any, bool, error)

	// Put upserts a single setting.
	Put(ctx context.Context, key string, value any) error

	// PutIfAbsent writes a setting only when the key does not exist yet.
	// Returns true when this caller performed the write.
	PutIfAbsent(ctx context.Context, key string, value any) (bool, error)
}

// KeyErrors reports per-key failures from a batch write. Keys that do not
// appear were applied successfully.
type KeyErrors map[string]error

func (e KeyErrors) Error() string {
	return fmt.Sprintf("%d setting(s) failed to persist", len(e))
}

// Store is a read-through cache over persisted settings. A stale read
// between a write on one instance and a read on another is accepted;
// per-user security state never depends on cross-instance cache
// coherence. When storage is unreachable the store serves hard-coded
// defaults instead of failing the caller: policy decisions must not be
// blocked by a storage outage.
type Store struct {
	repo Repository

	mu     sync.RWMutex
	cache  map[string]any
	loaded bool
}

// NewStore creates a settings store backed by repo. The cache starts
// empty; the first read triggers a full load.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Initialize seeds the default settings if not already initialized.
// Idempotent and safe under concurrent callers: each key is written only
// when absent, so previously tuned values are never overwritten and the
// single storage-level winner does the seeding.
func (s *Store) Initialize(ctx context.Context) error {
	_, present, err := s.repo.Get(ctx, keyInitialized)
	if err != nil {
		return fmt.Errorf("failed to check settings initialization: %w", err)
	}
	if present {
		slog.InfoContext(ctx, "settings already initialized")
		return nil
	}

	for key, value := range Defaults() {
		if key == keyInitialized {
			continue
		}
		if _, err := s.repo.PutIfAbsent(ctx, key, value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}

	// Marker goes last so a crash mid-seed re-runs the loop above.
	won, err := s.repo.PutIfAbsent(ctx, keyInitialized, true)
	if err != nil {
		return fmt.Errorf("failed to mark settings initialized: %w", err)
	}
	if won {
		slog.InfoContext(ctx, "default settings initialized")
	}

	s.ClearCache()
	return nil
}

// load performs a full reload from persistence into the cache.
// Caller must hold the write lock.
func (s *Store) load(ctx context.Context) error {
	values, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}
	s.cache = values
	s.loaded = true
	return nil
}

// ensureLoaded populates the cache if needed. On storage failure it
// leaves the cache unloaded (so the next read retries) and reports the
// degradation to the caller, which falls back to defaults.
func (s *Store) ensureLoaded(ctx context.Context) bool {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return true
	}
	if err := s.load(ctx); err != nil {
		slog.WarnContext(ctx, "settings reload failed, serving defaults",
			slog.String("error", err.Error()))
		return false
	}
	slog.InfoContext(ctx, "settings cache loaded", slog.Int("count", len(s.cache)))
	return true
}

// Get returns the setting for key. Lookup order: cache, caller fallback,
// hard-coded default. A storage outage degrades to fallback/defaults
// rather than surfacing an error.
func (s *Store) Get(ctx context.Context, key string, fallback any) any {
	if !s.ensureLoaded(ctx) {
		if v, ok := Defaults()[key]; ok {
			return v
		}
		return fallback
	}

	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	if fallback != nil {
		return fallback
	}
	if v, ok := Defaults()[key]; ok {
		return v
	}
	return nil
}

// GetBool returns a boolean setting, or fallback when the stored value
// is missing or not a bool.
func (s *Store) GetBool(ctx context.Context, key string, fallback bool) bool {
	if v, ok := s.Get(ctx, key, fallback).(bool); ok {
		return v
	}
	return fallback
}

// GetInt returns an integer setting, or fallback when the stored value
// is missing or not an int.
func (s *Store) GetInt(ctx context.Context, key string, fallback int) int {
	if v, ok := s.Get(ctx, key, fallback).(int); ok {
		return v
	}
	return fallback
}

// GetString returns a string setting, or fallback when the stored value
// is missing or not a string.
func (s *Store) GetString(ctx context.Context, key string, fallback string) string {
	if v, ok := s.Get(ctx, key, fallback).(string); ok {
		return v
	}
	return fallback
}

// GetAll returns a copy of all settings, internal keys included.
// Callers cannot mutate cache state through the returned map.
func (s *Store) GetAll(ctx context.Context) map[string]any {
	if !s.ensureLoaded(ctx) {
		return Defaults()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Set persists a single setting and updates the cache. Key and value
// validation is the caller's contract (see Validate); the store only
// persists.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if err := s.repo.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to persist setting %s: %w", key, err)
	}

	s.mu.Lock()
	if s.cache == nil {
		s.cache = make(map[string]any)
	}
	s.cache[key] = value
	s.mu.Unlock()

	slog.InfoContext(ctx, "setting updated", slog.String("key", key))
	return nil
}

// SetMany persists each setting independently. A failing key does not
// roll back keys already applied; failures are reported per key in the
// returned KeyErrors (nil when everything succeeded). Callers needing
// all-or-nothing must pre-validate, which the update flow does.
func (s *Store) SetMany(ctx context.Context, values map[string]any) KeyErrors {
	var failed KeyErrors
	for key, value := range values {
		if err := s.Set(ctx, key, value); err != nil {
			if failed == nil {
				failed = make(KeyErrors)
			}
			failed[key] = err
		}
	}
	return failed
}

// ClearCache invalidates the cache; the next read forces a full reload
// from persistence. Used after out-of-band changes and for test
// determinism.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = nil
	s.loaded = false
	s.mu.Unlock()
}
