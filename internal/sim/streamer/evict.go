package streamer

import (
	"context"

	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world"
)

// RemoveDistance is the world-unit distance past which chunks become evictable.
func (s *Streamer) RemoveDistance() float64 {
	return float64(s.cfg.BuildRadius*s.env.Geom.Edge()) * s.cfg.RemoveMultiplier
}

// evictable never admits a chunk within the removal distance or inside the most
// recent build radius.
func (s *Streamer) evictable(ch *world.Chunk) (float64, bool) {
	d := s.env.Geom.Center(ch.Coord).Sub(s.obs.Position).Len()
	if d <= s.RemoveDistance() {
		return d, false
	}
	if s.inRadius(ch.Coord, s.center, s.radius) {
		return d, false
	}
	return d, true
}

func (s *Streamer) scheduleEviction() {
	s.evictQ = s.evictQ[:0]
	for _, ch := range s.env.Store.Chunks() {
		if _, ok := s.evictable(ch); ok {
			s.evictQ = append(s.evictQ, ch.Key())
		}
	}
	if len(s.evictQ) > 0 {
		s.log.Debug("eviction queued", zap.Int("chunks", len(s.evictQ)))
	}
}

// evictOp re-checks the chunk against the current observer, saves it if it holds
// entities or unsaved edits, and only then removes it. A failed save keeps the
// chunk registered.
func (s *Streamer) evictOp(ctx context.Context, key world.ChunkKey) {
	ch, ok := s.env.Store.Lookup(key)
	if !ok {
		return
	}
	d, ok := s.evictable(ch)
	if !ok {
		return
	}
	saved := false
	if ch.HasEntities() || ch.Dirty() {
		err := ch.Save(ctx)
		s.rec.RecordSave(SaveEvent{Key: key, Reason: SaveEvict, HasEntities: ch.HasEntities(), Err: err, At: now()})
		if err != nil {
			s.log.Warn("evict: save failed, keeping chunk", zap.String("chunk", string(key)), zap.Error(err))
			s.rec.RecordEviction(EvictionEvent{Key: key, Distance: d, Kept: true, At: now()})
			return
		}
		saved = true
	}
	s.env.Store.Remove(key)
	for id, k := range s.entities {
		if k == key {
			delete(s.entities, id)
		}
	}
	s.rec.RecordEviction(EvictionEvent{Key: key, Distance: d, Saved: saved, At: now()})
}

// scheduleAutosave starts a sweep over the registry unless one is still running.
func (s *Streamer) scheduleAutosave() {
	s.lastSaveTick = s.tick
	s.lastSavePos = s.obs.Position
	if len(s.saveQ) > 0 {
		return
	}
	s.saveQ = append(s.saveQ, s.env.Store.LoadedChunkKeys()...)
}

func (s *Streamer) saveOp(ctx context.Context, key world.ChunkKey) {
	ch, ok := s.env.Store.Lookup(key)
	if !ok || !ch.Populated() {
		return
	}
	err := ch.Save(ctx)
	s.rec.RecordSave(SaveEvent{Key: key, Reason: SaveAutosave, HasEntities: ch.HasEntities(), Err: err, At: now()})
	if err != nil {
		s.log.Warn("autosave failed", zap.String("chunk", string(key)), zap.Error(err))
	}
}
