package world

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/sim/world/voxel"
)

// Status only moves forward while a chunk is registered.
type Status uint8

const (
	StatusNone Status = iota
	StatusDraw
	StatusDone
	StatusKeep
)

func (s Status) String() string {
	switch s {
	case StatusDraw:
		return "DRAW"
	case StatusDone:
		return "DONE"
	case StatusKeep:
		return "KEEP"
	default:
		return "NONE"
	}
}

// Env carries the collaborators every chunk shares.
type Env struct {
	Geom      Geometry
	Gen       *gen.Generator
	Store     *ChunkStore
	Persist   Persistence
	Mesher    *mesh.Builder
	Materials MaterialProvider
	Sink      MeshSink
}

// Chunk owns a dense ChunkSize³ block grid. The grid is only mutated from the
// streamer goroutine; mu guards the mesh and entity set for outside readers.
type Chunk struct {
	Coord  ChunkCoord
	Origin Vec3i

	key ChunkKey
	env *Env

	blocks    []Block
	populated bool
	loaded    bool
	decorated bool
	dirty     bool
	status    Status

	mu       sync.RWMutex
	mesh     *mesh.ChunkMesh
	entities map[uuid.UUID]struct{}
}

func NewChunk(env *Env, c ChunkCoord) *Chunk {
	g := env.Geom
	ch := &Chunk{
		Coord:    c,
		Origin:   g.Origin(c),
		key:      g.Key(c),
		env:      env,
		blocks:   make([]Block, g.Cells()),
		entities: map[uuid.UUID]struct{}{},
	}
	n := g.ChunkSize
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				b := &ch.blocks[g.index(x, y, z)]
				b.chunk = ch
				b.pos = Vec3i{x, y, z}
			}
		}
	}
	return ch
}

func (c *Chunk) Key() ChunkKey { return c.key }
func (c *Chunk) Status() Status { return c.status }
func (c *Chunk) Populated() bool { return c.populated }
func (c *Chunk) Loaded() bool { return c.loaded }
func (c *Chunk) Decorated() bool { return c.decorated }

// Dirty reports an edit that has not reached persistence yet.
func (c *Chunk) Dirty() bool { return c.dirty }

// MarkDraw moves a placeholder into the build pipeline.
func (c *Chunk) MarkDraw() {
	if c.status < StatusDraw {
		c.status = StatusDraw
	}
}

// MarkKeep pins a meshed chunk once it is confirmed inside the build radius.
func (c *Chunk) MarkKeep() {
	if c.status == StatusDone {
		c.status = StatusKeep
	}
}

// Block returns the cell at a chunk-local position.
func (c *Chunk) Block(x, y, z int) (*Block, bool) {
	if !c.env.Geom.inGrid(x, y, z) {
		return nil, false
	}
	return &c.blocks[c.env.Geom.index(x, y, z)], true
}

func (c *Chunk) TypeAt(x, y, z int) (voxel.BlockType, bool) { return c.typeAt(x, y, z) }

// SetBlock writes one cell without remeshing and marks the chunk dirty until
// the next successful Save.
func (c *Chunk) SetBlock(x, y, z int, t voxel.BlockType) bool {
	if !c.setKind(x, y, z, t) {
		return false
	}
	c.dirty = true
	return true
}

func (c *Chunk) setKind(x, y, z int, t voxel.BlockType) bool {
	if !c.env.Geom.inGrid(x, y, z) {
		return false
	}
	c.blocks[c.env.Geom.index(x, y, z)].kind = t
	return true
}

// NeighborChunk looks up the adjacent chunk across one face. It never generates.
func (c *Chunk) NeighborChunk(side voxel.Side) (*Chunk, bool) {
	dx, dy, dz := side.Offset()
	return c.neighborAt(dx, dy, dz)
}

// Types copies the block grid in storage order.
func (c *Chunk) Types() ([]voxel.BlockType, bool) {
	if !c.populated {
		return nil, false
	}
	out := make([]voxel.BlockType, len(c.blocks))
	for i := range c.blocks {
		out[i] = c.blocks[i].kind
	}
	return out, true
}

// BuildChunk fills the grid. A persisted grid always wins over generation so that
// edits survive unloading.
func (c *Chunk) BuildChunk(ctx context.Context) error {
	c.MarkDraw()
	if c.env.Persist != nil {
		grid, ok, err := c.env.Persist.Load(ctx, c.key)
		if err != nil {
			var pe *PersistError
			if !errors.As(err, &pe) {
				err = &PersistError{Op: "load", Key: c.key, Err: err}
			}
			return err
		}
		if ok {
			if err := c.loadTypes(grid); err != nil {
				return &PersistError{Op: "load", Key: c.key, Err: err}
			}
			return nil
		}
	}
	c.generate()
	return nil
}

func (c *Chunk) loadTypes(grid []voxel.BlockType) error {
	if len(grid) != len(c.blocks) {
		return fmt.Errorf("grid has %d cells, want %d", len(grid), len(c.blocks))
	}
	for i, t := range grid {
		if !t.Valid() || t == voxel.None {
			return fmt.Errorf("cell %d holds invalid block id %d", i, uint16(t))
		}
	}
	for i, t := range grid {
		c.blocks[i].kind = t
	}
	c.populated = true
	c.loaded = true
	c.decorated = true
	return nil
}

// BuildBlocks meshes the populated grid and publishes the result.
func (c *Chunk) BuildBlocks() {
	if !c.populated || len(c.blocks) != c.env.Geom.Cells() {
		panic(fmt.Sprintf("world: mesh pass on unpopulated chunk %s", c.key))
	}
	e := c.env.Geom.Edge()
	cells := make([]mesh.Cell, 0, e*e*e)
	for i := range c.blocks {
		b := &c.blocks[i]
		if b.pos.X >= e || b.pos.Y >= e || b.pos.Z >= e {
			// overlap row, meshed by the neighbor
			continue
		}
		if b.kind == voxel.Air {
			continue
		}
		cells = append(cells, b)
	}
	m := c.env.Mesher.BuildChunk(cells)
	if c.env.Materials != nil {
		m.SolidMaterial = c.env.Materials.Material(SubMeshSolid)
		m.FluidMaterial = c.env.Materials.Material(SubMeshFluid)
	}

	c.mu.Lock()
	c.mesh = &m
	c.mu.Unlock()
	if c.status < StatusDone {
		c.status = StatusDone
	}
	if c.env.Sink != nil {
		c.env.Sink.UploadMesh(c.key, &m)
	}
}

// Mesh returns the last combined mesh, or nil before the first mesh pass.
func (c *Chunk) Mesh() *mesh.ChunkMesh {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mesh
}

// RebuildChunk optionally clears one cell, remeshes, and saves the whole grid.
// Readers of Mesh see either the old or the new mesh, never a partial one.
func (c *Chunk) RebuildChunk(ctx context.Context, reset *Vec3i) error {
	if !c.populated {
		panic(fmt.Sprintf("world: rebuild of unpopulated chunk %s", c.key))
	}
	if reset != nil {
		if !c.SetBlock(reset.X, reset.Y, reset.Z, voxel.Air) {
			return fmt.Errorf("reset %s outside chunk %s", reset, c.key)
		}
	}
	c.dirty = true
	c.BuildBlocks()
	return c.Save(ctx)
}

// Save persists the full grid. Unpopulated chunks are never saved. A failed
// save leaves the chunk dirty.
func (c *Chunk) Save(ctx context.Context) error {
	if c.env.Persist == nil {
		c.dirty = false
		return nil
	}
	grid, ok := c.Types()
	if !ok {
		return nil
	}
	if err := c.env.Persist.Save(ctx, c.key, grid, c.HasEntities()); err != nil {
		var pe *PersistError
		if !errors.As(err, &pe) {
			err = &PersistError{Op: "save", Key: c.key, Err: err}
		}
		return err
	}
	c.dirty = false
	return nil
}

func (c *Chunk) TrackEntity(id uuid.UUID) {
	c.mu.Lock()
	c.entities[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Chunk) UntrackEntity(id uuid.UUID) {
	c.mu.Lock()
	delete(c.entities, id)
	c.mu.Unlock()
}

func (c *Chunk) HasEntities() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities) > 0
}

func (c *Chunk) Entities() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(c.entities))
	for id := range c.entities {
		out = append(out, id)
	}
	return out
}
