// Package voxel defines the closed block palette and the six cube sides.
package voxel

import (
	"fmt"
	"strings"
)

// BlockType is a palette id. The zero value is None (an unpopulated cell).
type BlockType uint16

const (
	None BlockType = iota
	Air
	Grass
	Dirt
	Stone
	Diamond
	Bedrock
	Water
	Wood
	Leaf
	Sand
	Redstone

	numBlockTypes
)

var blockNames = [numBlockTypes]string{
	None:     "NONE",
	Air:      "AIR",
	Grass:    "GRASS",
	Dirt:     "DIRT",
	Stone:    "STONE",
	Diamond:  "DIAMOND",
	Bedrock:  "BEDROCK",
	Water:    "WATER",
	Wood:     "WOOD",
	Leaf:     "LEAF",
	Sand:     "SAND",
	Redstone: "REDSTONE",
}

func (t BlockType) String() string {
	if t < numBlockTypes {
		return blockNames[t]
	}
	return fmt.Sprintf("BLOCK(%d)", uint16(t))
}

// Valid reports whether t belongs to the palette.
func (t BlockType) Valid() bool { return t < numBlockTypes }

// IsSolid is false for empty cells and fluids; everything else occludes faces.
func (t BlockType) IsSolid() bool {
	switch t {
	case None, Air, Water:
		return false
	default:
		return t.Valid()
	}
}

func (t BlockType) IsFluid() bool { return t == Water }

// Palette returns every block name in id order.
func Palette() []string {
	out := make([]string, numBlockTypes)
	copy(out, blockNames[:])
	return out
}

func ParseBlockType(s string) (BlockType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range blockNames {
		if name == s {
			return BlockType(i), nil
		}
	}
	return None, fmt.Errorf("unknown block type %q", s)
}
