package world

import (
	"context"
	"errors"
	"fmt"

	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/voxel"
)

// ErrPersistence marks I/O failures of the chunk store. Absence is not an error.
var ErrPersistence = errors.New("chunk persistence failure")

type PersistError struct {
	Op  string
	Key ChunkKey
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s chunk %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistError) Unwrap() error        { return e.Err }
func (e *PersistError) Is(target error) bool { return target == ErrPersistence }

// Persistence stores block-type overrides per chunk key.
type Persistence interface {
	// Load returns ok=false when nothing was ever saved for key.
	Load(ctx context.Context, key ChunkKey) (grid []voxel.BlockType, ok bool, err error)
	Save(ctx context.Context, key ChunkKey, grid []voxel.BlockType, hasEntities bool) error
}

type SubMesh uint8

const (
	SubMeshSolid SubMesh = iota
	SubMeshFluid
)

type MaterialProvider interface {
	Material(sub SubMesh) mesh.MaterialHandle
}

// StaticMaterials hands out the same two handles for every chunk.
type StaticMaterials struct {
	Solid mesh.MaterialHandle
	Fluid mesh.MaterialHandle
}

func (m StaticMaterials) Material(sub SubMesh) mesh.MaterialHandle {
	if sub == SubMeshFluid {
		return m.Fluid
	}
	return m.Solid
}

// MeshSink receives every freshly combined chunk mesh.
type MeshSink interface {
	UploadMesh(key ChunkKey, m *mesh.ChunkMesh)
}
