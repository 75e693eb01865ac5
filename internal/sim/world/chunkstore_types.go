package world

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstream.ai/internal/sim/world/logic/mathx"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3i) Scale(k int) Vec3i { return Vec3i{v.X * k, v.Y * k, v.Z * k} }
func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }
func (v Vec3i) Vec3() mgl64.Vec3 { return mgl64.Vec3{float64(v.X), float64(v.Y), float64(v.Z)} }

// ChunkCoord is a position in chunk-grid space.
type ChunkCoord Vec3i

func (c ChunkCoord) String() string { return Vec3i(c).String() }

// ChunkKey identifies a chunk by its world-space origin, e.g. "15_0_-30".
type ChunkKey string

func KeyOf(origin Vec3i) ChunkKey {
	return ChunkKey(fmt.Sprintf("%d_%d_%d", origin.X, origin.Y, origin.Z))
}

func ParseKey(k ChunkKey) (Vec3i, error) {
	parts := strings.Split(string(k), "_")
	if len(parts) != 3 {
		return Vec3i{}, fmt.Errorf("bad chunk key %q", k)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Vec3i{}, fmt.Errorf("bad chunk key %q: %w", k, err)
		}
		v[i] = n
	}
	return Vec3i{v[0], v[1], v[2]}, nil
}

// Geometry fixes the chunk shape. Chunk origins are Edge = ChunkSize-1 apart, so the
// last row of every chunk overlaps the first row of the next one.
type Geometry struct {
	ChunkSize int
	Rows      int
}

func (g Geometry) Edge() int { return g.ChunkSize - 1 }
func (g Geometry) Cells() int { return g.ChunkSize * g.ChunkSize * g.ChunkSize }

// Ceiling is the lowest world row no chunk meshes: the overlap row on top of the
// highest chunk row. Generation keeps it and everything above air.
func (g Geometry) Ceiling() int { return g.Rows * g.Edge() }

func (g Geometry) Origin(c ChunkCoord) Vec3i {
	return Vec3i(c).Scale(g.Edge())
}

func (g Geometry) Key(c ChunkCoord) ChunkKey { return KeyOf(g.Origin(c)) }

// CoordFromKey inverts Key. The origin must lie on the chunk lattice.
func (g Geometry) CoordFromKey(k ChunkKey) (ChunkCoord, error) {
	o, err := ParseKey(k)
	if err != nil {
		return ChunkCoord{}, err
	}
	e := g.Edge()
	if mathx.Mod(o.X, e) != 0 || mathx.Mod(o.Y, e) != 0 || mathx.Mod(o.Z, e) != 0 {
		return ChunkCoord{}, fmt.Errorf("chunk key %q is off the %d-block lattice", k, e)
	}
	return ChunkCoord{mathx.FloorDiv(o.X, e), mathx.FloorDiv(o.Y, e), mathx.FloorDiv(o.Z, e)}, nil
}

// CoordOf returns the chunk whose [0, Edge) range holds the world position.
func (g Geometry) CoordOf(p mgl64.Vec3) ChunkCoord {
	e := g.Edge()
	return ChunkCoord{mathx.FloorDivF(p[0], e), mathx.FloorDivF(p[1], e), mathx.FloorDivF(p[2], e)}
}

func (g Geometry) CoordOfBlock(p Vec3i) ChunkCoord {
	e := g.Edge()
	return ChunkCoord{mathx.FloorDiv(p.X, e), mathx.FloorDiv(p.Y, e), mathx.FloorDiv(p.Z, e)}
}

// Center is the world-space midpoint of a chunk.
func (g Geometry) Center(c ChunkCoord) mgl64.Vec3 {
	half := float64(g.Edge()) / 2
	return g.Origin(c).Vec3().Add(mgl64.Vec3{half, half, half})
}

// InWorld reports whether the coordinate lies within the configured chunk rows.
func (g Geometry) InWorld(c ChunkCoord) bool {
	return c.Y >= 0 && c.Y < g.Rows
}

func (g Geometry) index(x, y, z int) int {
	return x + g.ChunkSize*(y+g.ChunkSize*z)
}

func (g Geometry) inGrid(x, y, z int) bool {
	n := g.ChunkSize
	return x >= 0 && y >= 0 && z >= 0 && x < n && y < n && z < n
}
