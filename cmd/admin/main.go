package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/persistence/chunkfile"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/voxel"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "progress":
			progressCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func fail(code int, a ...any) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(code)
}

func openStore(dataDir string, tuningPath string) (*chunkfile.Store, tuning.Tuning) {
	tune, err := tuning.Load(tuningPath)
	if err != nil {
		fail(1, "load tuning:", err)
	}
	st, err := chunkfile.New(filepath.Join(dataDir, "chunks"), tune.Geometry().Cells())
	if err != nil {
		fail(1, "open chunks:", err)
	}
	return st, tune
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	_ = fs.Parse(args)

	st, _ := openStore(*dataDir, *tuningPath)
	keys, err := st.Keys()
	if err != nil {
		fail(1, "read:", err)
	}
	for _, k := range keys {
		h, err := chunkfile.ReadHeader(st.Path(k))
		if err != nil {
			fmt.Printf("%s\terror=%v\n", k, err)
			continue
		}
		fmt.Printf("%s\tentities=%v\tsaved_at=%d\n", k, h.HasEntities, h.SavedAt)
	}
}

// chunkCmd compares a saved chunk against freshly generated terrain.
func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	key := fs.String("key", "", "chunk key x_y_z (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*key) == "" {
		fail(2, "missing -key")
	}
	st, tune := openStore(*dataDir, *tuningPath)
	k := world.ChunkKey(strings.TrimSpace(*key))

	h, err := chunkfile.ReadHeader(st.Path(k))
	if err != nil {
		fail(1, "read header:", err)
	}
	saved, ok, err := st.Load(context.Background(), k)
	if err != nil || !ok {
		fail(1, "load:", err)
	}
	gen, err := generated(tune, k)
	if err != nil {
		fail(1, "generate:", err)
	}
	d := diffGrids(saved, gen)
	fmt.Printf("chunk %s v%d cells=%d entities=%v saved_at=%d edited=%d\n", k, h.Version, h.Cells, h.HasEntities, h.SavedAt, d.changed)
	for _, t := range d.sortedTypes() {
		fmt.Printf("  %-9s generated=%d saved=%d\n", t, d.before[t], d.after[t])
	}
}

// generated rebuilds a chunk's terrain exactly as the streamer would on first load.
func generated(tune tuning.Tuning, k world.ChunkKey) ([]voxel.BlockType, error) {
	env := &world.Env{Geom: tune.Geometry(), Gen: tune.Generator(), Store: world.NewChunkStore()}
	c, err := env.Geom.CoordFromKey(k)
	if err != nil {
		return nil, err
	}
	ch := world.NewChunk(env, c)
	if err := ch.BuildChunk(context.Background()); err != nil {
		return nil, err
	}
	ch.Decorate()
	grid, _ := ch.Types()
	return grid, nil
}

type gridDiff struct {
	changed       int
	before, after map[voxel.BlockType]int
}

func diffGrids(saved, gen []voxel.BlockType) gridDiff {
	d := gridDiff{before: map[voxel.BlockType]int{}, after: map[voxel.BlockType]int{}}
	for i := range saved {
		if i >= len(gen) || saved[i] != gen[i] {
			d.changed++
		}
		d.after[saved[i]]++
		if i < len(gen) {
			d.before[gen[i]]++
		}
	}
	return d
}

func (d gridDiff) sortedTypes() []voxel.BlockType {
	seen := map[voxel.BlockType]bool{}
	var out []voxel.BlockType
	for _, m := range []map[voxel.BlockType]int{d.before, d.after} {
		for t := range m {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// rollbackCmd drops the saved grids of every chunk overlapping an AABB so the
// server regenerates them. Chunks holding entities are skipped unless -force.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	aabb := fs.String("aabb", "", "AABB filter in world blocks: x1,y1,z1:x2,y2,z2 (required)")
	force := fs.Bool("force", false, "also roll back chunks saved with entities")
	dryRun := fs.Bool("dry_run", false, "print affected chunks without deleting")
	_ = fs.Parse(args)

	if strings.TrimSpace(*aabb) == "" {
		fail(2, "missing -aabb")
	}
	min, max, err := parseAABB(*aabb)
	if err != nil {
		fail(2, "bad -aabb:", err)
	}
	st, tune := openStore(*dataDir, *tuningPath)
	keys, err := st.Keys()
	if err != nil {
		fail(1, "read:", err)
	}
	plan := rollbackPlan(tune.Geometry(), keys, min, max)

	var applied, skipped int
	for _, k := range plan {
		h, err := chunkfile.ReadHeader(st.Path(k))
		if err == nil && h.HasEntities && !*force {
			skipped++
			fmt.Printf("skip %s (entities)\n", k)
			continue
		}
		if *dryRun {
			fmt.Printf("would roll back %s\n", k)
			applied++
			continue
		}
		if err := st.Delete(k); err != nil {
			fail(1, "delete:", err)
		}
		applied++
	}
	fmt.Printf("rollback ok: aabb=%s candidates=%d applied=%d skipped=%d dry_run=%v\n", *aabb, len(plan), applied, skipped, *dryRun)
}

// rollbackPlan returns the saved chunks whose block span intersects [min,max].
func rollbackPlan(g world.Geometry, keys []world.ChunkKey, min, max [3]int) []world.ChunkKey {
	var out []world.ChunkKey
	for _, k := range keys {
		o, err := world.ParseKey(k)
		if err != nil {
			continue
		}
		lo := [3]int{o.X, o.Y, o.Z}
		hi := [3]int{o.X + g.Edge(), o.Y + g.Edge(), o.Z + g.Edge()}
		if overlaps(lo, hi, min, max) {
			out = append(out, k)
		}
	}
	return out
}

func overlaps(lo, hi, min, max [3]int) bool {
	for i := 0; i < 3; i++ {
		if hi[i] < min[i] || lo[i] > max[i] {
			return false
		}
	}
	return true
}

func parseAABB(s string) ([3]int, [3]int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return [3]int{}, [3]int{}, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3i(parts[0])
	if err != nil {
		return [3]int{}, [3]int{}, err
	}
	b, err := parseVec3i(parts[1])
	if err != nil {
		return [3]int{}, [3]int{}, err
	}
	min := [3]int{minInt(a[0], b[0]), minInt(a[1], b[1]), minInt(a[2], b[2])}
	max := [3]int{maxInt(a[0], b[0]), maxInt(a[1], b[1]), maxInt(a[2], b[2])}
	return min, max, nil
}

func parseVec3i(s string) ([3]int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("expected x,y,z")
	}
	var out [3]int
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return [3]int{}, err
		}
		out[i] = v
	}
	return out, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// eventsCmd prints the streamer event log, optionally filtered by kind or chunk.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "cycle|save|evict (optional)")
	key := fs.String("key", "", "chunk key filter (optional)")
	_ = fs.Parse(args)

	files, err := listEventFiles(filepath.Join(*dataDir, "events"))
	if err != nil {
		fail(1, "list events:", err)
	}
	if len(files) == 0 {
		fail(1, "no events files found")
	}
	var n int
	for _, path := range files {
		err := readEvents(path, func(e persistlog.Entry) {
			if *kind != "" && e.Type != *kind {
				return
			}
			if *key != "" && e.Chunk != *key {
				return
			}
			b, _ := json.Marshal(e)
			fmt.Println(string(b))
			n++
		})
		if err != nil {
			fail(1, "events:", err)
		}
	}
	fmt.Fprintf(os.Stderr, "%d events\n", n)
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func readEvents(path string, fn func(persistlog.Entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return decodeEvents(f, filepath.Base(path), fn)
}

func decodeEvents(r io.Reader, name string, fn func(persistlog.Entry)) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e persistlog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", name, err)
		}
		fn(e)
	}
	return sc.Err()
}
