// Package gen turns noise samples into block columns.
package gen

import (
	"math"

	"voxelstream.ai/internal/sim/world/logic/mathx"
	"voxelstream.ai/internal/sim/world/terrain/noise"
	"voxelstream.ai/internal/sim/world/voxel"
)

type Config struct {
	Seed int64

	HeightScale       float64
	UndergroundOffset int
	WaterLevel        int

	// Diamond band on the 3D field. Kept narrow and fixed so generation stays reproducible.
	OreMin float64
	OreMax float64

	CaveFloor     int
	CaveThreshold float64

	TreePermille int
}

func DefaultConfig() Config {
	return Config{
		HeightScale:       48,
		UndergroundOffset: 6,
		WaterLevel:        12,
		OreMin:            0.52,
		OreMax:            0.525,
		CaveFloor:         3,
		CaveThreshold:     0.08,
		TreePermille:      12,
	}
}

type Generator struct {
	cfg    Config
	height noise.Sampler
	caves  noise.Sampler
}

func New(cfg Config, height, caves noise.Sampler) *Generator {
	if cfg.UndergroundOffset <= 0 {
		cfg.UndergroundOffset = 6
	}
	if cfg.HeightScale == 0 {
		cfg.HeightScale = 1
	}
	return &Generator{cfg: cfg, height: height, caves: caves}
}

func (g *Generator) Config() Config { return g.cfg }

func (g *Generator) SurfaceHeight(wx, wz int) int {
	return int(math.Floor(g.height.Sample2D(float64(wx), float64(wz)) * g.cfg.HeightScale))
}

// GenerateColumn returns the block types of one world column indexed by world y.
// Cells are decided from the top down so the first surface cell can become grass
// without a second pass.
func (g *Generator) GenerateColumn(wx, wz, columnHeight int) []voxel.BlockType {
	out := make([]voxel.BlockType, columnHeight)
	if columnHeight <= 0 {
		return out
	}
	surface := g.SurfaceHeight(wx, wz)
	underground := surface - g.cfg.UndergroundOffset
	grass := false

	for wy := columnHeight - 1; wy >= 0; wy-- {
		switch {
		case wy == 0:
			out[wy] = voxel.Bedrock
		case wy == underground+1:
			out[wy] = voxel.Dirt
		case wy > underground+1 && wy < g.cfg.WaterLevel:
			if grass {
				out[wy] = voxel.Dirt
			} else {
				out[wy] = voxel.Water
			}
		case wy >= surface:
			out[wy] = voxel.Air
		case wy <= underground:
			out[wy] = g.underground(wx, wy, wz)
		case !grass:
			out[wy] = voxel.Grass
			grass = true
		default:
			out[wy] = voxel.Dirt
		}
	}
	return out
}

func (g *Generator) underground(wx, wy, wz int) voxel.BlockType {
	d := g.caves.Sample3D(float64(wx), float64(wy), float64(wz))
	switch {
	case d >= g.cfg.OreMin && d <= g.cfg.OreMax:
		return voxel.Diamond
	case wy >= g.cfg.CaveFloor && d < g.cfg.CaveThreshold:
		return voxel.Air
	default:
		return voxel.Stone
	}
}

// Grid is a cube of cells addressed in chunk-local coordinates.
type Grid interface {
	Size() int
	At(x, y, z int) voxel.BlockType
	Set(x, y, z int, t voxel.BlockType)
}

const treeSalt = 600

// Decorate plants trees on grass. It needs the whole grid populated, so it runs
// after the terrain pass. Trees stay inside [0, size-1) on every axis and never
// touch the row shared with the neighbor chunk.
func (g *Generator) Decorate(grid Grid, originX, originY, originZ int) int {
	if g.cfg.TreePermille <= 0 {
		return 0
	}
	size := grid.Size()
	edge := size - 1
	planted := 0
	for z := 1; z <= edge-2; z++ {
		for x := 1; x <= edge-2; x++ {
			h := mathx.Hash2(g.cfg.Seed+treeSalt, originX+x, originZ+z)
			if mathx.Permille(h) >= g.cfg.TreePermille {
				continue
			}
			trunk := 4 + int((h>>10)%2)
			top := -1
			for y := edge - 1; y >= 0; y-- {
				if grid.At(x, y, z) == voxel.Grass {
					top = y
					break
				}
			}
			// trunk + crown of two leaf layers + cap
			if top < 0 || top+trunk+2 >= edge {
				continue
			}
			g.placeTree(grid, x, top, z, trunk)
			planted++
		}
	}
	return planted
}

func (g *Generator) placeTree(grid Grid, x, ground, z, trunk int) {
	grid.Set(x, ground, z, voxel.Dirt)
	for i := 1; i <= trunk; i++ {
		grid.Set(x, ground+i, z, voxel.Wood)
	}
	crown := ground + trunk
	for dy := 0; dy <= 1; dy++ {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				if grid.At(x+dx, crown+dy, z+dz) == voxel.Air {
					grid.Set(x+dx, crown+dy, z+dz, voxel.Leaf)
				}
			}
		}
	}
	if grid.At(x, crown+2, z) == voxel.Air {
		grid.Set(x, crown+2, z, voxel.Leaf)
	}
}

// SettleFluids lets water fall straight down into air inside the grid.
func SettleFluids(grid Grid) int {
	size := grid.Size()
	moved := 0
	for y := size - 2; y >= 0; y-- {
		for z := 0; z < size; z++ {
			for x := 0; x < size; x++ {
				if grid.At(x, y+1, z).IsFluid() && grid.At(x, y, z) == voxel.Air {
					grid.Set(x, y, z, grid.At(x, y+1, z))
					moved++
				}
			}
		}
	}
	return moved
}
