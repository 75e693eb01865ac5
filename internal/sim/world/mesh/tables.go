package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/sim/world/voxel"
)

// Unit cube centred on the block position.
var corners = [8]mgl32.Vec3{
	{-0.5, -0.5, 0.5},
	{0.5, -0.5, 0.5},
	{0.5, -0.5, -0.5},
	{-0.5, -0.5, -0.5},
	{-0.5, 0.5, 0.5},
	{0.5, 0.5, 0.5},
	{0.5, 0.5, -0.5},
	{-0.5, 0.5, -0.5},
}

var faceCorners = [6][4]int{
	voxel.Bottom: {0, 1, 2, 3},
	voxel.Top:    {7, 6, 5, 4},
	voxel.Left:   {7, 4, 0, 3},
	voxel.Right:  {5, 6, 2, 1},
	voxel.Front:  {4, 5, 1, 0},
	voxel.Back:   {6, 7, 3, 2},
}

var faceNormals = [6]mgl32.Vec3{
	voxel.Bottom: {0, -1, 0},
	voxel.Top:    {0, 1, 0},
	voxel.Left:   {-1, 0, 0},
	voxel.Right:  {1, 0, 0},
	voxel.Front:  {0, 0, 1},
	voxel.Back:   {0, 0, -1},
}

// Winding selects triangle order inside a quad.
type Winding uint8

const (
	Clockwise Winding = iota
	CounterClockwise
)

var quadTriangles = [2][6]uint32{
	Clockwise:        {3, 2, 1, 3, 1, 0},
	CounterClockwise: {1, 2, 3, 0, 1, 3},
}

func ParseWinding(s string) Winding {
	switch s {
	case "ccw", "CCW", "counter_clockwise":
		return CounterClockwise
	default:
		return Clockwise
	}
}

// Atlas is a 16x16 tile texture.
const (
	atlasTiles = 16
	tileSize   = float32(1) / atlasTiles
)

type tile struct{ col, row int }

var (
	tileGrassTop = tile{2, 6}
	tileDirt     = tile{2, 15}
)

var atlas = map[voxel.BlockType]tile{
	voxel.Dirt:     tileDirt,
	voxel.Stone:    {0, 14},
	voxel.Diamond:  {2, 12},
	voxel.Bedrock:  {5, 13},
	voxel.Redstone: {3, 12},
	voxel.Sand:     {2, 14},
	voxel.Water:    {13, 3},
	voxel.Wood:     {4, 14},
	voxel.Leaf:     {4, 12},
}

func tileFor(t voxel.BlockType, side voxel.Side) tile {
	if t == voxel.Grass {
		if side == voxel.Top {
			return tileGrassTop
		}
		return tileDirt
	}
	if tl, ok := atlas[t]; ok {
		return tl
	}
	return tile{0, 0}
}

// UVs returns the four atlas coordinates of a face, in face-corner order.
func UVs(t voxel.BlockType, side voxel.Side) [4]mgl32.Vec2 {
	tl := tileFor(t, side)
	u0 := float32(tl.col) * tileSize
	v0 := float32(tl.row) * tileSize
	u1 := u0 + tileSize
	v1 := v0 + tileSize
	return [4]mgl32.Vec2{
		{u1, v1},
		{u0, v1},
		{u0, v0},
		{u1, v0},
	}
}
