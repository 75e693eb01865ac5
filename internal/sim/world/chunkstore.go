package world

import (
	"fmt"
	"sort"
	"sync"
)

// ChunkStore is the registry of live chunks keyed by world-space origin.
// Insertions and removals happen on the streamer goroutine; the lock lets
// transport goroutines read while that happens.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) Lookup(k ChunkKey) (*Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.chunks[k]
	return ch, ok
}

func (s *ChunkStore) Insert(ch *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[ch.key]; ok {
		return fmt.Errorf("chunk %s already registered", ch.key)
	}
	s.chunks[ch.key] = ch
	return nil
}

func (s *ChunkStore) Remove(k ChunkKey) (*Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chunks[k]
	if ok {
		delete(s.chunks, k)
	}
	return ch, ok
}

func (s *ChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Clear drops every chunk. Used at world teardown.
func (s *ChunkStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = map[ChunkKey]*Chunk{}
}

// Chunks returns the live chunks ordered by coordinate (x, then z, then y).
func (s *ChunkStore) Chunks() []*Chunk {
	s.mu.RLock()
	out := make([]*Chunk, 0, len(s.chunks))
	for _, ch := range s.chunks {
		out = append(out, ch)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coord, out[j].Coord
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
	return out
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	chunks := s.Chunks()
	keys := make([]ChunkKey, len(chunks))
	for i, ch := range chunks {
		keys[i] = ch.key
	}
	return keys
}
