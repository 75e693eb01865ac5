package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"voxelstream.ai/internal/sim/world/voxel"
)

// EncodeBlocks run-length encodes a block grid as varint (block_id, run_len) pairs.
func EncodeBlocks(grid []voxel.BlockType) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(grid) {
		b := grid[i]
		run := 1
		for j := i + 1; j < len(grid) && grid[j] == b && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return buf.Bytes()
}

// DecodeBlocks reverses EncodeBlocks. When want > 0 the decoded grid must have
// exactly that many cells.
func DecodeBlocks(raw []byte, want int) ([]voxel.BlockType, error) {
	out := make([]voxel.BlockType, 0, max(want, 0))
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF || !voxel.BlockType(b).Valid() {
			return nil, fmt.Errorf("unknown block id %d", b)
		}
		if run == 0 || (want > 0 && uint64(len(out))+run > uint64(want)) {
			return nil, fmt.Errorf("run of %d overflows grid of %d", run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, voxel.BlockType(b))
		}
	}
	if want > 0 && len(out) != want {
		return nil, fmt.Errorf("decoded %d cells, want %d", len(out), want)
	}
	return out, nil
}
