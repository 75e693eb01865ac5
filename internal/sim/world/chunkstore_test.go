package world_test

import (
	"testing"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/voxel"
	"voxelstream.ai/internal/sim/worldtest"
)

func TestChunkStore_OneChunkPerKey(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	a := world.NewChunk(env, world.ChunkCoord{X: 1})
	if err := env.Store.Insert(a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := env.Store.Insert(world.NewChunk(env, world.ChunkCoord{X: 1})); err == nil {
		t.Fatalf("duplicate insert accepted")
	}
	if got, ok := env.Store.Lookup("7_0_0"); !ok || got != a {
		t.Fatalf("lookup by origin key failed")
	}
	if _, ok := env.Store.Remove(a.Key()); !ok {
		t.Fatalf("remove failed")
	}
	if env.Store.Len() != 0 {
		t.Fatalf("len=%d after remove", env.Store.Len())
	}
}

func TestChunkStore_SortedKeys(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 2, worldtest.FlatGenerator(4))
	for _, c := range []world.ChunkCoord{{X: 1}, {X: -1, Z: 2}, {X: -1, Z: 0, Y: 1}, {X: -1}} {
		if err := env.Store.Insert(world.NewChunk(env, c)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	keys := env.Store.LoadedChunkKeys()
	want := []world.ChunkKey{"-7_0_0", "-7_7_0", "-7_0_14", "7_0_0"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys=%v want %v", keys, want)
		}
	}
	env.Store.Clear()
	if env.Store.Len() != 0 {
		t.Fatalf("clear left %d chunks", env.Store.Len())
	}
}

func TestChunkStore_CellsAtLatticeHasTwoCopies(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	a := worldtest.BuildChunk(t, env, world.ChunkCoord{X: 0})
	b := worldtest.BuildChunk(t, env, world.ChunkCoord{X: 1})

	refs := env.Store.CellsAt(env.Geom, world.Vec3i{X: 7, Y: 2, Z: 3})
	if len(refs) != 2 {
		t.Fatalf("got %d refs want 2", len(refs))
	}
	if refs[0].Chunk != b || refs[0].Local != (world.Vec3i{X: 0, Y: 2, Z: 3}) {
		t.Fatalf("owner ref=%+v", refs[0])
	}
	if refs[1].Chunk != a || refs[1].Local != (world.Vec3i{X: 7, Y: 2, Z: 3}) {
		t.Fatalf("overlap ref=%+v", refs[1])
	}
	if refs := env.Store.CellsAt(env.Geom, world.Vec3i{X: 3, Y: 2, Z: 3}); len(refs) != 1 || refs[0].Chunk != a {
		t.Fatalf("interior refs=%+v", refs)
	}

	bt, ok := env.Store.BlockAt(env.Geom, world.Vec3i{X: 9, Y: 3, Z: 1})
	if !ok || bt != voxel.Grass {
		t.Fatalf("BlockAt=%s ok=%v want GRASS", bt, ok)
	}
	if _, ok := env.Store.BlockAt(env.Geom, world.Vec3i{X: -3, Y: 3, Z: 1}); ok {
		t.Fatalf("BlockAt must be absent outside registered chunks")
	}
}
