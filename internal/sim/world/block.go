package world

import (
	"voxelstream.ai/internal/sim/world/logic/mathx"
	"voxelstream.ai/internal/sim/world/voxel"
)

// Block is one cell of a chunk. It never outlives its chunk.
type Block struct {
	chunk *Chunk
	pos   Vec3i
	kind  voxel.BlockType
}

func (b *Block) Type() voxel.BlockType { return b.kind }
func (b *Block) Local() (x, y, z int) { return b.pos.X, b.pos.Y, b.pos.Z }
func (b *Block) Pos() Vec3i { return b.pos }
func (b *Block) IsSolid() bool { return b.kind.IsSolid() }
func (b *Block) Chunk() *Chunk { return b.chunk }

// HasSolidNeighbor reports whether the chunk-local probe resolves to a solid block.
// Probes outside [0, Edge) go to the neighbor chunk through the registry; an
// unregistered or unpopulated neighbor counts as not solid, so a chunk meshed
// before its neighbor shows the boundary face until it is rebuilt.
func (b *Block) HasSolidNeighbor(x, y, z int) bool {
	t, ok := b.chunk.probe(x, y, z)
	return ok && t.IsSolid()
}

func (b *Block) HasFluidNeighbor(x, y, z int) bool {
	t, ok := b.chunk.probe(x, y, z)
	return ok && t.IsFluid()
}

// probe resolves a chunk-local coordinate that may spill into a neighbor.
func (c *Chunk) probe(x, y, z int) (voxel.BlockType, bool) {
	e := c.env.Geom.Edge()
	if x >= 0 && x < e && y >= 0 && y < e && z >= 0 && z < e {
		return c.typeAt(x, y, z)
	}
	n, ok := c.neighborAt(mathx.FloorDiv(x, e), mathx.FloorDiv(y, e), mathx.FloorDiv(z, e))
	if !ok {
		return voxel.None, false
	}
	return n.typeAt(mathx.Mod(x, e), mathx.Mod(y, e), mathx.Mod(z, e))
}

func (c *Chunk) neighborAt(dx, dy, dz int) (*Chunk, bool) {
	if c.env.Store == nil {
		return nil, false
	}
	e := c.env.Geom.Edge()
	origin := c.Origin.Add(Vec3i{dx, dy, dz}.Scale(e))
	n, ok := c.env.Store.Lookup(KeyOf(origin))
	if !ok || n == c {
		return nil, false
	}
	return n, true
}

// typeAt is a bounds-checked read; unpopulated grids read as absent.
func (c *Chunk) typeAt(x, y, z int) (voxel.BlockType, bool) {
	if !c.populated || !c.env.Geom.inGrid(x, y, z) {
		return voxel.None, false
	}
	return c.blocks[c.env.Geom.index(x, y, z)].kind, true
}
