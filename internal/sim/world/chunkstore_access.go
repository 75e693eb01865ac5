package world

import (
	"voxelstream.ai/internal/sim/world/logic/mathx"
	"voxelstream.ai/internal/sim/world/voxel"
)

// CellRef is one chunk-local copy of a world block.
type CellRef struct {
	Chunk *Chunk
	Local Vec3i
}

// axisCandidates lists (chunk index, local index) pairs that hold world coordinate w.
// A coordinate on the lattice is stored twice: as row 0 of one chunk and as the
// overlap row of the previous one.
func axisCandidates(w, e int) [][2]int {
	c := mathx.FloorDiv(w, e)
	l := w - c*e
	out := [][2]int{{c, l}}
	if l == 0 {
		out = append(out, [2]int{c - 1, e})
	}
	return out
}

// CellsAt returns every registered chunk cell that stores the world block at p.
// The first entry, if present, is the owning chunk (local coords in [0, Edge)).
func (s *ChunkStore) CellsAt(g Geometry, p Vec3i) []CellRef {
	e := g.Edge()
	var out []CellRef
	for _, ax := range axisCandidates(p.X, e) {
		for _, ay := range axisCandidates(p.Y, e) {
			for _, az := range axisCandidates(p.Z, e) {
				ch, ok := s.Lookup(g.Key(ChunkCoord{ax[0], ay[0], az[0]}))
				if !ok {
					continue
				}
				out = append(out, CellRef{Chunk: ch, Local: Vec3i{ax[1], ay[1], az[1]}})
			}
		}
	}
	return out
}

// BlockAt resolves a world position through the owning chunk. ok is false when the
// chunk is not registered or not populated yet.
func (s *ChunkStore) BlockAt(g Geometry, p Vec3i) (voxel.BlockType, bool) {
	c := g.CoordOfBlock(p)
	ch, ok := s.Lookup(g.Key(c))
	if !ok {
		return voxel.None, false
	}
	o := g.Origin(c)
	return ch.typeAt(p.X-o.X, p.Y-o.Y, p.Z-o.Z)
}
