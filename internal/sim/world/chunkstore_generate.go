package world

import (
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/sim/world/voxel"
)

// generate fills the grid column by column from the terrain generator. Each
// column is evaluated up to the world ceiling and sliced to this chunk, so the
// surface bookkeeping is identical for every chunk row.
func (c *Chunk) generate() {
	g := c.env.Geom
	n := g.ChunkSize
	height := g.Ceiling()
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			col := c.env.Gen.GenerateColumn(c.Origin.X+x, c.Origin.Z+z, height)
			for y := 0; y < n; y++ {
				wy := c.Origin.Y + y
				t := voxel.Air
				if wy >= 0 && wy < len(col) {
					t = col[wy]
				}
				c.blocks[g.index(x, y, z)].kind = t
			}
		}
	}
	c.populated = true
}

// Decorate runs the secondary generation pass once per generated chunk.
func (c *Chunk) Decorate() {
	if !c.populated || c.decorated {
		return
	}
	c.decorated = true
	if c.env.Gen == nil {
		return
	}
	grid := chunkGrid{c}
	c.env.Gen.Decorate(grid, c.Origin.X, c.Origin.Y, c.Origin.Z)
	gen.SettleFluids(grid)
}

type chunkGrid struct{ c *Chunk }

func (g chunkGrid) Size() int { return g.c.env.Geom.ChunkSize }

func (g chunkGrid) At(x, y, z int) voxel.BlockType {
	t, _ := g.c.typeAt(x, y, z)
	return t
}

func (g chunkGrid) Set(x, y, z int, t voxel.BlockType) {
	if g.c.Origin.Y+y >= g.c.env.Geom.Ceiling() {
		return
	}
	g.c.setKind(x, y, z, t)
}
