package chunkfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/voxel"
	"voxelstream.ai/internal/sim/worldtest"
)

func TestStore_MissingChunkIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	grid, ok, err := s.Load(context.Background(), "0_0_0")
	if err != nil || ok || grid != nil {
		t.Fatalf("grid=%v ok=%v err=%v", grid, ok, err)
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := []voxel.BlockType{voxel.Bedrock, voxel.Stone, voxel.Stone, voxel.Dirt, voxel.Grass, voxel.Air, voxel.Air, voxel.Water}
	if err := s.Save(context.Background(), "15_0_-30", in, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, ok, err := s.Load(context.Background(), "15_0_-30")
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("got %v want %v", out, in)
	}

	h, err := ReadHeader(filepath.Join(dir, "15_0_-30"+ext))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Version != Version || h.Key != "15_0_-30" || h.Cells != 8 || !h.HasEntities {
		t.Fatalf("header=%+v", h)
	}
	keys, err := s.Keys()
	if err != nil || len(keys) != 1 || keys[0] != "15_0_-30" {
		t.Fatalf("keys=%v err=%v", keys, err)
	}
}

func TestStore_RejectsPartialGrid(t *testing.T) {
	s, _ := New(t.TempDir(), 8)
	err := s.Save(context.Background(), "0_0_0", []voxel.BlockType{voxel.Air}, false)
	if !errors.Is(err, world.ErrPersistence) {
		t.Fatalf("err=%v want ErrPersistence", err)
	}
}

func TestStore_CorruptFileIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, 8)
	if err := os.WriteFile(filepath.Join(dir, "0_0_0"+ext), []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, ok, err := s.Load(context.Background(), "0_0_0")
	if ok || !errors.Is(err, world.ErrPersistence) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestStore_RenamedFileDetected(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, 2)
	if err := s.Save(context.Background(), "0_0_0", []voxel.BlockType{voxel.Air, voxel.Stone}, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Rename(filepath.Join(dir, "0_0_0"+ext), filepath.Join(dir, "7_0_0"+ext)); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, _, err := s.Load(context.Background(), "7_0_0"); !errors.Is(err, world.ErrPersistence) {
		t.Fatalf("err=%v want ErrPersistence", err)
	}
}

func TestStore_EditSurvivesChunkReload(t *testing.T) {
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	s, err := New(t.TempDir(), env.Geom.Cells())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.Persist = s
	ch := worldtest.BuildChunk(t, env, world.ChunkCoord{X: -1})
	if err := ch.RebuildChunk(context.Background(), &world.Vec3i{X: 2, Y: 3, Z: 2}); err != nil {
		t.Fatalf("RebuildChunk: %v", err)
	}
	want, _ := ch.Types()

	env.Store.Clear()
	again := worldtest.BuildChunk(t, env, world.ChunkCoord{X: -1})
	got, _ := again.Types()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reloaded grid differs from the edited one")
	}
}

func TestStore_DeleteForgetsChunk(t *testing.T) {
	s, err := New(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	grid := make([]voxel.BlockType, 8)
	for i := range grid {
		grid[i] = voxel.Stone
	}
	if err := s.Save(ctx, "7_0_7", grid, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("7_0_7"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.Load(ctx, "7_0_7"); ok || err != nil {
		t.Fatalf("after delete ok=%v err=%v", ok, err)
	}
	if err := s.Delete("7_0_7"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if keys, _ := s.Keys(); len(keys) != 0 {
		t.Fatalf("keys=%v", keys)
	}
}
