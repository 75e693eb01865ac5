// Package mesh culls hidden cube faces and packs the rest into flat buffers.
// It produces data only; uploading it is somebody else's job.
package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/sim/world/voxel"
)

// Cell is one block as seen by the mesher.
type Cell interface {
	Type() voxel.BlockType
	Local() (x, y, z int)
	// HasSolidNeighbor probes a chunk-local coordinate, which may lie outside the chunk.
	HasSolidNeighbor(x, y, z int) bool
	HasFluidNeighbor(x, y, z int) bool
}

type Quad struct {
	Block    voxel.BlockType
	Side     voxel.Side
	Vertices [4]mgl32.Vec3
	Normal   mgl32.Vec3
	UVs      [4]mgl32.Vec2
}

type MeshBuffers struct {
	Vertices  []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Triangles []uint32
}

func (m MeshBuffers) QuadCount() int { return len(m.Vertices) / 4 }
func (m MeshBuffers) Empty() bool    { return len(m.Vertices) == 0 }

// MaterialHandle is opaque to the core; the renderer resolves it.
type MaterialHandle string

// ChunkMesh splits fluids from solids so they can use different materials.
type ChunkMesh struct {
	Solid MeshBuffers
	Fluid MeshBuffers

	SolidMaterial MaterialHandle
	FluidMaterial MaterialHandle
}

type Builder struct {
	winding Winding
}

func NewBuilder(w Winding) *Builder {
	return &Builder{winding: w}
}

func (b *Builder) Winding() Winding { return b.winding }

// BuildBlockFaces emits one quad per face whose neighbor does not hide it.
func (b *Builder) BuildBlockFaces(c Cell) []Quad {
	bt := c.Type()
	if bt == voxel.Air || bt == voxel.None {
		return nil
	}
	x, y, z := c.Local()
	pos := mgl32.Vec3{float32(x), float32(y), float32(z)}

	var quads []Quad
	for _, side := range voxel.Sides {
		dx, dy, dz := side.Offset()
		nx, ny, nz := x+dx, y+dy, z+dz
		if c.HasSolidNeighbor(nx, ny, nz) {
			continue
		}
		if bt.IsFluid() && c.HasFluidNeighbor(nx, ny, nz) {
			continue
		}
		quads = append(quads, makeQuad(bt, side, pos))
	}
	return quads
}

func makeQuad(bt voxel.BlockType, side voxel.Side, pos mgl32.Vec3) Quad {
	q := Quad{
		Block:  bt,
		Side:   side,
		Normal: faceNormals[side],
		UVs:    UVs(bt, side),
	}
	for i, ci := range faceCorners[side] {
		q.Vertices[i] = corners[ci].Add(pos)
	}
	return q
}

// Combine concatenates quads into one indexed buffer.
func (b *Builder) Combine(quads []Quad) MeshBuffers {
	out := MeshBuffers{
		Vertices:  make([]mgl32.Vec3, 0, len(quads)*4),
		Normals:   make([]mgl32.Vec3, 0, len(quads)*4),
		UVs:       make([]mgl32.Vec2, 0, len(quads)*4),
		Triangles: make([]uint32, 0, len(quads)*6),
	}
	tris := quadTriangles[b.winding]
	for _, q := range quads {
		base := uint32(len(out.Vertices))
		for i := 0; i < 4; i++ {
			out.Vertices = append(out.Vertices, q.Vertices[i])
			out.Normals = append(out.Normals, q.Normal)
			out.UVs = append(out.UVs, q.UVs[i])
		}
		for _, t := range tris {
			out.Triangles = append(out.Triangles, base+t)
		}
	}
	return out
}

// BuildChunk meshes every cell and splits the result into solid and fluid buffers.
func (b *Builder) BuildChunk(cells []Cell) ChunkMesh {
	var solid, fluid []Quad
	for _, c := range cells {
		qs := b.BuildBlockFaces(c)
		if len(qs) == 0 {
			continue
		}
		if c.Type().IsFluid() {
			fluid = append(fluid, qs...)
		} else {
			solid = append(solid, qs...)
		}
	}
	return ChunkMesh{
		Solid: b.Combine(solid),
		Fluid: b.Combine(fluid),
	}
}
