// Package chunkfile persists chunk block grids on disk, one zstd file per chunk key.
//
// File layout: zstd( JSON header line + '\n' + gob(fileV1) ). The header line lets
// tools peek at a file without decoding the grid.
package chunkfile

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/encoding"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/voxel"
)

const (
	Version = 1
	ext     = ".chunk.zst"
)

type Header struct {
	Version     int    `json:"version"`
	Key         string `json:"key"`
	Cells       int    `json:"cells"`
	HasEntities bool   `json:"has_entities"`
	SavedAt     int64  `json:"saved_at"`
}

type fileV1 struct {
	Header Header
	Blocks []byte
}

// Store implements world.Persistence. It is safe for concurrent use as long as
// no two goroutines save the same key at once; the streamer loop guarantees that.
type Store struct {
	dir   string
	cells int
}

func New(dir string, cells int) (*Store, error) {
	if cells <= 0 {
		return nil, fmt.Errorf("chunkfile: bad cell count %d", cells)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, cells: cells}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key world.ChunkKey) string {
	return filepath.Join(s.dir, string(key)+ext)
}

func (s *Store) Path(key world.ChunkKey) string { return s.path(key) }

// Delete drops the saved grid so the chunk regenerates on next load. Deleting a
// chunk that was never saved is not an error.
func (s *Store) Delete(key world.ChunkKey) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &world.PersistError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Load returns ok=false when the chunk was never saved.
func (s *Store) Load(ctx context.Context, key world.ChunkKey) ([]voxel.BlockType, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, &world.PersistError{Op: "load", Key: key, Err: err}
	}
	f, err := readFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &world.PersistError{Op: "load", Key: key, Err: err}
	}
	if f.Header.Version != Version {
		return nil, false, &world.PersistError{Op: "load", Key: key, Err: fmt.Errorf("unsupported version %d", f.Header.Version)}
	}
	if f.Header.Key != string(key) {
		return nil, false, &world.PersistError{Op: "load", Key: key, Err: fmt.Errorf("file holds chunk %q", f.Header.Key)}
	}
	grid, err := encoding.DecodeBlocks(f.Blocks, s.cells)
	if err != nil {
		return nil, false, &world.PersistError{Op: "load", Key: key, Err: err}
	}
	return grid, true, nil
}

// Save writes the whole grid through a temp file and a rename, so a crash never
// leaves a truncated chunk behind.
func (s *Store) Save(ctx context.Context, key world.ChunkKey, grid []voxel.BlockType, hasEntities bool) error {
	if err := ctx.Err(); err != nil {
		return &world.PersistError{Op: "save", Key: key, Err: err}
	}
	if len(grid) != s.cells {
		return &world.PersistError{Op: "save", Key: key, Err: fmt.Errorf("grid has %d cells, want %d", len(grid), s.cells)}
	}
	f := fileV1{
		Header: Header{
			Version:     Version,
			Key:         string(key),
			Cells:       len(grid),
			HasEntities: hasEntities,
			SavedAt:     time.Now().UnixMilli(),
		},
		Blocks: encoding.EncodeBlocks(grid),
	}
	if err := writeFile(s.dir, s.path(key), f); err != nil {
		return &world.PersistError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// Keys lists every saved chunk, sorted.
func (s *Store) Keys() ([]world.ChunkKey, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []world.ChunkKey
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		out = append(out, world.ChunkKey(strings.TrimSuffix(name, ext)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ReadHeader decodes only the JSON header line of a chunk file.
func ReadHeader(path string) (Header, error) {
	var h Header
	fh, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func writeFile(dir, path string, f fileV1) error {
	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 32*1024)
	hb, _ := json.Marshal(f.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&f); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	ok = true
	return nil
}

func readFile(path string) (fileV1, error) {
	var f fileV1
	fh, err := os.Open(path)
	if err != nil {
		return f, err
	}
	defer fh.Close()

	dec, err := zstd.NewReader(fh)
	if err != nil {
		return f, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 32*1024)
	// The gob payload repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return f, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&f); err != nil {
		return f, fmt.Errorf("gob decode: %w", err)
	}
	return f, nil
}
