package worldtest

import (
	"context"
	"sync"
	"testing"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/sim/world/terrain/noise"
	"voxelstream.ai/internal/sim/world/voxel"
)

// MemoryStore is an in-process Persistence. Failures can be injected to exercise
// the skip-and-retry paths.
type MemoryStore struct {
	mu       sync.Mutex
	grids    map[world.ChunkKey][]voxel.BlockType
	entities map[world.ChunkKey]bool
	saves    []world.ChunkKey

	LoadErr error
	SaveErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grids:    map[world.ChunkKey][]voxel.BlockType{},
		entities: map[world.ChunkKey]bool{},
	}
}

func (m *MemoryStore) Load(ctx context.Context, key world.ChunkKey) ([]voxel.BlockType, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, false, m.LoadErr
	}
	g, ok := m.grids[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]voxel.BlockType, len(g))
	copy(out, g)
	return out, true, nil
}

func (m *MemoryStore) Save(ctx context.Context, key world.ChunkKey, grid []voxel.BlockType, hasEntities bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	g := make([]voxel.BlockType, len(grid))
	copy(g, grid)
	m.grids[key] = g
	m.entities[key] = hasEntities
	m.saves = append(m.saves, key)
	return nil
}

func (m *MemoryStore) Has(key world.ChunkKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grids[key]
	return ok
}

func (m *MemoryStore) SavedWithEntities(key world.ChunkKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[key]
}

// Saves returns every saved key in call order.
func (m *MemoryStore) Saves() []world.ChunkKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]world.ChunkKey, len(m.saves))
	copy(out, m.saves)
	return out
}

func (m *MemoryStore) SetLoadErr(err error) {
	m.mu.Lock()
	m.LoadErr = err
	m.mu.Unlock()
}

func (m *MemoryStore) SetSaveErr(err error) {
	m.mu.Lock()
	m.SaveErr = err
	m.mu.Unlock()
}

// RecordingSink counts mesh uploads per chunk.
type RecordingSink struct {
	mu      sync.Mutex
	uploads map[world.ChunkKey]int
	last    map[world.ChunkKey]*mesh.ChunkMesh
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{
		uploads: map[world.ChunkKey]int{},
		last:    map[world.ChunkKey]*mesh.ChunkMesh{},
	}
}

func (s *RecordingSink) UploadMesh(key world.ChunkKey, m *mesh.ChunkMesh) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key]++
	s.last[key] = m
}

func (s *RecordingSink) Uploads(key world.ChunkKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[key]
}

// FlatGenerator produces a world whose surface sits at the given height everywhere.
func FlatGenerator(surface int) *gen.Generator {
	return gen.New(gen.Config{
		Seed:              1,
		HeightScale:       1,
		UndergroundOffset: 6,
		OreMin:            2,
		OreMax:            2,
		CaveFloor:         1 << 20,
	}, noise.Constant{Value2D: float64(surface) + 0.5}, noise.Constant{Value3D: 0.5})
}

// NoiseGenerator uses real seeded noise with default tuning.
func NoiseGenerator(seed int64) *gen.Generator {
	cfg := gen.DefaultConfig()
	cfg.Seed = seed
	return gen.New(cfg, noise.NewField(seed, noise.DefaultHeightParams()), noise.NewField(seed+1, noise.DefaultCaveParams()))
}

// NewEnv wires a fresh registry around g with in-memory persistence.
func NewEnv(t testing.TB, size, rows int, g *gen.Generator) (*world.Env, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	env := &world.Env{
		Geom:      world.Geometry{ChunkSize: size, Rows: rows},
		Gen:       g,
		Store:     world.NewChunkStore(),
		Persist:   store,
		Mesher:    mesh.NewBuilder(mesh.Clockwise),
		Materials: world.StaticMaterials{Solid: "atlas", Fluid: "water"},
	}
	return env, store
}

// BuildChunk registers, populates and meshes one chunk.
func BuildChunk(t testing.TB, env *world.Env, c world.ChunkCoord) *world.Chunk {
	t.Helper()
	ch := world.NewChunk(env, c)
	if err := env.Store.Insert(ch); err != nil {
		t.Fatalf("insert %s: %v", c, err)
	}
	if err := ch.BuildChunk(context.Background()); err != nil {
		t.Fatalf("build chunk %s: %v", c, err)
	}
	ch.BuildBlocks()
	return ch
}
