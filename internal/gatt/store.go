package gatt

import "sync"

// Store keeps the latest value written for each capability. It backs
// characteristic reads, which arrive on link goroutines.
type Store struct {
	mu     sync.RWMutex
	values map[Capability][]byte
}

func NewStore() *Store {
	return &Store{values: make(map[Capability][]byte)}
}

// Write replaces the stored value with a copy of p
func (s *Store) Write(c Capability, p []byte) {
	v := make([]byte, len(p))
	copy(v, p)

	s.mu.Lock()
	s.values[c] = v
	s.mu.Unlock()
}

// Read returns a copy of the stored value, nil if nothing was written yet
func (s *Store) Read(c Capability) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[c]
	if !ok {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
