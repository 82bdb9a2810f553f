package output

import "sync"

// Settings is the configuration value attached to an output instance.
// It has clone-on-share semantics: the registry clones the caller's
// settings at creation, so later mutations by either side stay private
// until explicitly applied.
type Settings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSettings returns an empty Settings.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]any)}
}

// Clone returns an independent copy of the settings.
func (s *Settings) Clone() *Settings {
	out := NewSettings()
	if s == nil {
		return out
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.values {
		out.values[k] = v
	}
	return out
}

// Set stores a value under key, replacing any existing value.
func (s *Settings) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// SetDefault stores a value only if the key is currently unset. Type
// descriptors use it so defaults never clobber caller-supplied values.
func (s *Settings) SetDefault(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		s.values[key] = value
	}
}

// Get returns the raw value for key.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// String returns the string stored under key, or fallback if the key is
// unset or holds a different type.
func (s *Settings) String(key, fallback string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(string); ok {
		return v
	}
	return fallback
}

// Int returns the int64 stored under key, accepting int for convenience.
func (s *Settings) Int(key string, fallback int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch v := s.values[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return fallback
}

// Bool returns the bool stored under key, or fallback.
func (s *Settings) Bool(key string, fallback bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key].(bool); ok {
		return v
	}
	return fallback
}

// Apply merges every key from other into s, overwriting existing keys.
func (s *Settings) Apply(other *Settings) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range other.values {
		s.values[k] = v
	}
}

// Len returns the number of stored keys.
func (s *Settings) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
