package world_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/voxel"
	"voxelstream.ai/internal/sim/worldtest"
)

func TestChunkKey_OriginKeyedRoundTrip(t *testing.T) {
	g := world.Geometry{ChunkSize: 16, Rows: 4}
	c := world.ChunkCoord{X: 1, Y: 0, Z: -2}
	k := g.Key(c)
	if k != "15_0_-30" {
		t.Fatalf("key=%q want 15_0_-30", k)
	}
	back, err := g.CoordFromKey(k)
	if err != nil {
		t.Fatalf("CoordFromKey: %v", err)
	}
	if back != c {
		t.Fatalf("round trip %v -> %v", c, back)
	}
	if _, err := g.CoordFromKey("3_0_0"); err == nil {
		t.Fatalf("expected off-lattice key to fail")
	}
	if _, err := world.ParseKey("1_2"); err == nil {
		t.Fatalf("expected malformed key to fail")
	}
}

func TestBuildChunk_PopulatesEveryCell(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 16, 3, worldtest.NoiseGenerator(42))
	for _, c := range []world.ChunkCoord{{X: 0, Y: 0, Z: 0}, {X: -3, Y: 1, Z: 7}, {X: 2, Y: 2, Z: -1}} {
		ch := world.NewChunk(env, c)
		if ch.Status() != world.StatusNone {
			t.Fatalf("fresh chunk status=%s", ch.Status())
		}
		if err := ch.BuildChunk(context.Background()); err != nil {
			t.Fatalf("BuildChunk: %v", err)
		}
		if ch.Status() != world.StatusDraw {
			t.Fatalf("status after BuildChunk=%s want DRAW", ch.Status())
		}
		grid, ok := ch.Types()
		if !ok || len(grid) != 16*16*16 {
			t.Fatalf("grid ok=%v len=%d", ok, len(grid))
		}
		for i, bt := range grid {
			if bt == voxel.None || !bt.Valid() {
				t.Fatalf("chunk %s cell %d unpopulated (%s)", c, i, bt)
			}
		}
	}
}

func TestBlock_IsSolidFollowsType(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 2, worldtest.NoiseGenerator(3))
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				b, ok := ch.Block(x, y, z)
				if !ok {
					t.Fatalf("missing block (%d,%d,%d)", x, y, z)
				}
				if b.Chunk() != ch {
					t.Fatalf("block back-reference points elsewhere")
				}
				if !b.Type().IsFluid() && b.IsSolid() != (b.Type() != voxel.Air) {
					t.Fatalf("block %s IsSolid=%v", b.Type(), b.IsSolid())
				}
			}
		}
	}
}

func TestHasSolidNeighbor_WrapsIntoNeighborChunk(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	a := worldtest.BuildChunk(t, env, world.ChunkCoord{X: 0})
	east := worldtest.BuildChunk(t, env, world.ChunkCoord{X: 1})
	west := worldtest.BuildChunk(t, env, world.ChunkCoord{X: -1})
	edge := env.Geom.Edge()

	probe, _ := a.Block(edge-1, 5, 2)
	east.SetBlock(0, 5, 2, voxel.Stone)
	if !probe.HasSolidNeighbor(edge, 5, 2) {
		t.Fatalf("index Edge must resolve to row 0 of the east chunk")
	}
	east.SetBlock(0, 5, 2, voxel.Air)
	if probe.HasSolidNeighbor(edge, 5, 2) {
		t.Fatalf("east cell cleared but still reported solid")
	}

	probe, _ = a.Block(0, 6, 3)
	west.SetBlock(edge-1, 6, 3, voxel.Wood)
	if !probe.HasSolidNeighbor(-1, 6, 3) {
		t.Fatalf("index -1 must resolve to row Edge-1 of the west chunk")
	}
	// The overlap copy inside a is never consulted for boundary probes.
	a.SetBlock(edge, 5, 2, voxel.Stone)
	probe, _ = a.Block(edge-1, 5, 2)
	if probe.HasSolidNeighbor(edge, 5, 2) {
		t.Fatalf("probe used the local overlap row instead of the neighbor")
	}
}

func TestHasSolidNeighbor_WrapsOnEveryAxis(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 3, worldtest.FlatGenerator(4))
	edge := env.Geom.Edge()
	center := world.ChunkCoord{X: 0, Y: 1, Z: 0}
	mid := worldtest.BuildChunk(t, env, center)

	for _, side := range voxel.Sides {
		d := [3]int{}
		d[0], d[1], d[2] = side.Offset()
		n := worldtest.BuildChunk(t, env, world.ChunkCoord{X: center.X + d[0], Y: center.Y + d[1], Z: center.Z + d[2]})

		// from: probing cell in mid; probe: the spill coordinate; dst: the cell in n.
		from, probe, dst := [3]int{3, 3, 3}, [3]int{3, 3, 3}, [3]int{3, 3, 3}
		for i := range d {
			switch d[i] {
			case 1:
				from[i], probe[i], dst[i] = edge-1, edge, 0
			case -1:
				from[i], probe[i], dst[i] = 0, -1, edge-1
			}
		}
		b, _ := mid.Block(from[0], from[1], from[2])

		n.SetBlock(dst[0], dst[1], dst[2], voxel.Stone)
		if !b.HasSolidNeighbor(probe[0], probe[1], probe[2]) {
			t.Fatalf("%s: probe %v must resolve to %v of the neighbor", side, probe, dst)
		}
		n.SetBlock(dst[0], dst[1], dst[2], voxel.Air)
		if b.HasSolidNeighbor(probe[0], probe[1], probe[2]) {
			t.Fatalf("%s: cleared neighbor cell still solid", side)
		}
	}
}

func TestHasSolidNeighbor_MissingNeighborIsNotSolid(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	a := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	b, _ := a.Block(0, 1, 0)
	for _, p := range [][3]int{{-1, 1, 0}, {0, -1, 0}, {0, 1, -1}, {7, 1, 0}, {0, 1, 7}, {-30, 1, 0}} {
		if b.HasSolidNeighbor(p[0], p[1], p[2]) {
			t.Fatalf("probe %v resolved solid without a registered neighbor", p)
		}
	}

	// Registered but not yet populated neighbors are absent too.
	pending := world.NewChunk(env, world.ChunkCoord{X: -1})
	if err := env.Store.Insert(pending); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if b.HasSolidNeighbor(-1, 1, 0) {
		t.Fatalf("unpopulated neighbor reported solid")
	}
}

func countSide(m *mesh.ChunkMesh, side voxel.Side, plane float32) int {
	dx, dy, dz := side.Offset()
	n := 0
	for q := 0; q < m.Solid.QuadCount(); q++ {
		nv := m.Solid.Normals[q*4]
		if nv[0] != float32(dx) || nv[1] != float32(dy) || nv[2] != float32(dz) {
			continue
		}
		v := m.Solid.Vertices[q*4]
		var coord float32
		switch {
		case dx != 0:
			coord = v[0]
		case dy != 0:
			coord = v[1]
		default:
			coord = v[2]
		}
		if coord == plane {
			n++
		}
	}
	return n
}

func TestMesh_BoundaryStalenessUntilRebuild(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	edge := env.Geom.Edge()
	a := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	// 4 solid rows (y=0..3) across 7 z columns face the missing east neighbor.
	if got := countSide(a.Mesh(), voxel.Right, float32(edge)-0.5); got != 4*edge {
		t.Fatalf("east boundary quads before neighbor=%d want %d", got, 4*edge)
	}

	worldtest.BuildChunk(t, env, world.ChunkCoord{X: 1})
	if got := countSide(a.Mesh(), voxel.Right, float32(edge)-0.5); got != 4*edge {
		t.Fatalf("a must keep its stale boundary faces until rebuilt, got %d", got)
	}

	a.BuildBlocks()
	if got := countSide(a.Mesh(), voxel.Right, float32(edge)-0.5); got != 0 {
		t.Fatalf("east boundary quads after rebuild=%d want 0", got)
	}
}

func TestMesh_TwoChunksEitherOrder(t *testing.T) {
	for _, order := range [][2]int{{0, 1}, {1, 0}} {
		env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
		edge := env.Geom.Edge()
		chunks := []*world.Chunk{
			world.NewChunk(env, world.ChunkCoord{X: 0}),
			world.NewChunk(env, world.ChunkCoord{X: 1}),
		}
		for _, ch := range chunks {
			if err := env.Store.Insert(ch); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := ch.BuildChunk(context.Background()); err != nil {
				t.Fatalf("BuildChunk: %v", err)
			}
		}
		for _, i := range order {
			chunks[i].BuildBlocks()
		}
		a, b := chunks[0].Mesh(), chunks[1].Mesh()
		if n := countSide(a, voxel.Right, float32(edge)-0.5); n != 0 {
			t.Fatalf("order %v: west chunk kept %d shared faces", order, n)
		}
		if n := countSide(b, voxel.Left, -0.5); n != 0 {
			t.Fatalf("order %v: east chunk kept %d shared faces", order, n)
		}
		// Every column shows exactly one grass top, no duplicates at the seam.
		tops := countSide(a, voxel.Top, 3.5) + countSide(b, voxel.Top, 3.5)
		if tops != 2*edge*edge {
			t.Fatalf("order %v: top quads=%d want %d", order, tops, 2*edge*edge)
		}
		// Outer faces still face the unregistered chunks.
		if n := countSide(a, voxel.Left, -0.5); n != 4*edge {
			t.Fatalf("order %v: west outer quads=%d want %d", order, n, 4*edge)
		}
	}
}

func TestBuildBlocks_PanicsOnUnpopulatedGrid(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	ch := world.NewChunk(env, world.ChunkCoord{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	ch.BuildBlocks()
}

func TestBuildBlocks_AttachesMaterialsAndUploads(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	sink := worldtest.NewRecordingSink()
	env.Sink = sink
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	if ch.Status() != world.StatusDone {
		t.Fatalf("status=%s want DONE", ch.Status())
	}
	m := ch.Mesh()
	if m == nil || m.Solid.Empty() {
		t.Fatalf("expected solid mesh")
	}
	if m.SolidMaterial != "atlas" || m.FluidMaterial != "water" {
		t.Fatalf("materials=%q/%q", m.SolidMaterial, m.FluidMaterial)
	}
	if sink.Uploads(ch.Key()) != 1 {
		t.Fatalf("uploads=%d want 1", sink.Uploads(ch.Key()))
	}
	ch.MarkKeep()
	if ch.Status() != world.StatusKeep {
		t.Fatalf("status=%s want KEEP", ch.Status())
	}
	ch.BuildBlocks()
	if ch.Status() != world.StatusKeep {
		t.Fatalf("remesh moved status backwards to %s", ch.Status())
	}
}

func TestRebuildChunk_SaveLoadRoundTrip(t *testing.T) {
	env, store := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{X: 2, Z: -1})
	if err := ch.RebuildChunk(context.Background(), &world.Vec3i{X: 3, Y: 3, Z: 3}); err != nil {
		t.Fatalf("RebuildChunk: %v", err)
	}
	if !store.Has(ch.Key()) {
		t.Fatalf("rebuild did not persist")
	}
	want, _ := ch.Types()

	// Fresh registry, same persistence: the override must win over generation.
	env2, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	env2.Persist = store
	again := world.NewChunk(env2, world.ChunkCoord{X: 2, Z: -1})
	if err := again.BuildChunk(context.Background()); err != nil {
		t.Fatalf("BuildChunk: %v", err)
	}
	got, _ := again.Types()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reloaded grid differs")
	}
	if bt, _ := again.TypeAt(3, 3, 3); bt != voxel.Air {
		t.Fatalf("reset cell=%s want AIR", bt)
	}
	if !again.Loaded() {
		t.Fatalf("chunk should report it was loaded")
	}
}

func TestRebuildChunk_RejectsResetOutsideGrid(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	if err := ch.RebuildChunk(context.Background(), &world.Vec3i{X: 8}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildChunk_LoadFailureIsPersistenceError(t *testing.T) {
	env, store := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	store.SetLoadErr(errors.New("disk on fire"))
	ch := world.NewChunk(env, world.ChunkCoord{})
	err := ch.BuildChunk(context.Background())
	if !errors.Is(err, world.ErrPersistence) {
		t.Fatalf("err=%v want ErrPersistence", err)
	}
	if ch.Populated() {
		t.Fatalf("failed load must leave the grid unpopulated")
	}
}

func TestBuildChunk_CorruptOverrideRejected(t *testing.T) {
	env, store := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	key := env.Geom.Key(world.ChunkCoord{})
	if err := store.Save(context.Background(), key, []voxel.BlockType{voxel.Stone}, false); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	err := world.NewChunk(env, world.ChunkCoord{}).BuildChunk(context.Background())
	if !errors.Is(err, world.ErrPersistence) {
		t.Fatalf("err=%v want ErrPersistence", err)
	}
}

func TestChunk_DirtyUntilSaved(t *testing.T) {
	env, store := worldtest.NewEnv(t, 16, 1, worldtest.NoiseGenerator(5))
	ch := world.NewChunk(env, world.ChunkCoord{})
	if err := ch.BuildChunk(context.Background()); err != nil {
		t.Fatalf("BuildChunk: %v", err)
	}
	ch.Decorate()
	ch.BuildBlocks()
	if ch.Dirty() {
		t.Fatalf("generation and decoration are not edits")
	}

	ch.SetBlock(1, 1, 1, voxel.Air)
	if !ch.Dirty() {
		t.Fatalf("SetBlock must mark the chunk dirty")
	}
	store.SetSaveErr(errors.New("disk full"))
	if err := ch.RebuildChunk(context.Background(), &world.Vec3i{X: 2, Y: 1, Z: 1}); err == nil {
		t.Fatalf("expected save error")
	}
	if !ch.Dirty() {
		t.Fatalf("failed save cleared the dirty flag")
	}
	store.SetSaveErr(nil)
	if err := ch.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ch.Dirty() {
		t.Fatalf("successful save must clear the dirty flag")
	}
}

func TestGenerate_KeepsUnmeshedCeilingAir(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(20))
	edge := env.Geom.Edge()
	if env.Geom.Ceiling() != edge {
		t.Fatalf("ceiling=%d want %d", env.Geom.Ceiling(), edge)
	}
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	for z := 0; z < 8; z++ {
		for x := 0; x < 8; x++ {
			if bt, _ := ch.TypeAt(x, edge, z); bt != voxel.Air {
				t.Fatalf("ceiling cell (%d,%d,%d)=%s want AIR", x, edge, z, bt)
			}
			if bt, _ := ch.TypeAt(x, edge-1, z); !bt.IsSolid() {
				t.Fatalf("top meshed row (%d,%d,%d)=%s want solid", x, edge-1, z, bt)
			}
		}
	}
	// The clipped surface stays visible from above.
	if got := countSide(ch.Mesh(), voxel.Top, float32(edge)-0.5); got != edge*edge {
		t.Fatalf("top quads=%d want %d", got, edge*edge)
	}
}

func TestSave_FailureIsPersistenceError(t *testing.T) {
	env, store := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	store.SetSaveErr(errors.New("permission denied"))
	err := ch.Save(context.Background())
	var pe *world.PersistError
	if !errors.As(err, &pe) || pe.Op != "save" || pe.Key != ch.Key() {
		t.Fatalf("err=%v want save PersistError", err)
	}
}

func TestNeighborChunk_RegistryLookupOnly(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 2, worldtest.FlatGenerator(4))
	a := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	up := worldtest.BuildChunk(t, env, world.ChunkCoord{Y: 1})
	if n, ok := a.NeighborChunk(voxel.Top); !ok || n != up {
		t.Fatalf("top neighbor not resolved")
	}
	if _, ok := a.NeighborChunk(voxel.Left); ok {
		t.Fatalf("left neighbor must be absent")
	}
	if env.Store.Len() != 2 {
		t.Fatalf("lookup must not create chunks, len=%d", env.Store.Len())
	}
}

func TestChunk_EntityTracking(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{})
	id := uuid.New()
	ch.TrackEntity(id)
	if !ch.HasEntities() || len(ch.Entities()) != 1 {
		t.Fatalf("entity not tracked")
	}
	ch.UntrackEntity(id)
	if ch.HasEntities() {
		t.Fatalf("entity not untracked")
	}
}

func TestDecorate_RunsOnceAndSkipsLoaded(t *testing.T) {
	env, store := worldtest.NewEnv(t, 16, 1, worldtest.NoiseGenerator(5))
	ch := world.NewChunk(env, world.ChunkCoord{})
	if err := ch.BuildChunk(context.Background()); err != nil {
		t.Fatalf("BuildChunk: %v", err)
	}
	ch.Decorate()
	first, _ := ch.Types()
	ch.Decorate()
	second, _ := ch.Types()
	if !reflect.DeepEqual(first, second) || !ch.Decorated() {
		t.Fatalf("decoration must run once")
	}
	if err := ch.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	env2, _ := worldtest.NewEnv(t, 16, 1, worldtest.NoiseGenerator(5))
	env2.Persist = store
	loaded := world.NewChunk(env2, world.ChunkCoord{})
	if err := loaded.BuildChunk(context.Background()); err != nil {
		t.Fatalf("BuildChunk: %v", err)
	}
	if !loaded.Decorated() {
		t.Fatalf("loaded chunks are already decorated")
	}
}
