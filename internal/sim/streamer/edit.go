package streamer

import (
	"context"
	"errors"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/voxel"
)

// ApplyDig turns the block at p into air in every chunk that stores it, remeshes
// the owner and any meshed chunk whose faces border the cell, and persists the
// modified grids. It reports false when the block is not loaded or already air.
func (s *Streamer) ApplyDig(ctx context.Context, p world.Vec3i) (bool, error) {
	g := s.env.Geom
	refs := s.env.Store.CellsAt(g, p)
	if len(refs) == 0 || refs[0].Chunk.Coord != g.CoordOfBlock(p) {
		return false, nil
	}
	owner := refs[0]
	t, ok := owner.Chunk.TypeAt(owner.Local.X, owner.Local.Y, owner.Local.Z)
	if !ok || t == voxel.Air {
		return false, nil
	}

	var errs []error
	save := func(ch *world.Chunk) {
		err := ch.Save(ctx)
		s.rec.RecordSave(SaveEvent{Key: ch.Key(), Reason: SaveEdit, HasEntities: ch.HasEntities(), Err: err, At: now()})
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, r := range refs[1:] {
		if r.Chunk.Populated() {
			r.Chunk.SetBlock(r.Local.X, r.Local.Y, r.Local.Z, voxel.Air)
			save(r.Chunk)
		}
	}
	if owner.Chunk.Status() >= world.StatusDone {
		local := owner.Local
		err := owner.Chunk.RebuildChunk(ctx, &local)
		s.rec.RecordSave(SaveEvent{Key: owner.Chunk.Key(), Reason: SaveEdit, HasEntities: owner.Chunk.HasEntities(), Err: err, At: now()})
		if err != nil {
			errs = append(errs, err)
		}
	} else {
		// Still in the build pipeline; the mesh pass picks the edit up.
		owner.Chunk.SetBlock(owner.Local.X, owner.Local.Y, owner.Local.Z, voxel.Air)
		save(owner.Chunk)
	}

	remeshed := map[world.ChunkKey]bool{owner.Chunk.Key(): true}
	for _, side := range voxel.Sides {
		dx, dy, dz := side.Offset()
		q := p.Add(world.Vec3i{X: dx, Y: dy, Z: dz})
		n, ok := s.env.Store.Lookup(g.Key(g.CoordOfBlock(q)))
		if !ok || remeshed[n.Key()] || !n.Populated() || n.Status() < world.StatusDone {
			continue
		}
		remeshed[n.Key()] = true
		n.BuildBlocks()
	}

	err := errors.Join(errs...)
	if err != nil {
		s.log.Warn("dig: persist failed", zap.Stringer("pos", p), zap.Error(err))
	}
	return true, err
}

// AttachEntity registers a dynamic entity with the chunk containing pos. An entity
// already attached elsewhere is moved.
func (s *Streamer) AttachEntity(pos mgl64.Vec3, id uuid.UUID) bool {
	key := s.env.Geom.Key(s.env.Geom.CoordOf(pos))
	ch, ok := s.env.Store.Lookup(key)
	if !ok {
		return false
	}
	s.DetachEntity(id)
	ch.TrackEntity(id)
	s.entities[id] = key
	return true
}

func (s *Streamer) DetachEntity(id uuid.UUID) bool {
	key, ok := s.entities[id]
	if !ok {
		return false
	}
	delete(s.entities, id)
	if ch, ok := s.env.Store.Lookup(key); ok {
		ch.UntrackEntity(id)
	}
	return true
}
