package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/sim/streamer"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/terrain/gen"
	"voxelstream.ai/internal/sim/world/terrain/noise"
)

type Tuning struct {
	World    WorldTuning    `yaml:"world"`
	Noise    NoiseTuning    `yaml:"noise"`
	Terrain  TerrainTuning  `yaml:"terrain"`
	Streamer StreamerTuning `yaml:"streamer"`
	Mesh     MeshTuning     `yaml:"mesh"`
}

type WorldTuning struct {
	Seed       int64 `yaml:"seed"`
	ChunkSize  int   `yaml:"chunk_size"`
	WorldRows  int   `yaml:"world_rows"`
	TickRateHz int   `yaml:"tick_rate_hz"`
}

type NoiseTuning struct {
	Height noise.Params `yaml:"height"`
	Caves  noise.Params `yaml:"caves"`
}

type TerrainTuning struct {
	HeightScale       float64 `yaml:"height_scale"`
	UndergroundOffset int     `yaml:"underground_offset"`
	WaterLevel        int     `yaml:"water_level"`
	OreMin            float64 `yaml:"ore_min"`
	OreMax            float64 `yaml:"ore_max"`
	CaveFloor         int     `yaml:"cave_floor"`
	CaveThreshold     float64 `yaml:"cave_threshold"`
	TreePermille      int     `yaml:"tree_permille"`
}

type StreamerTuning struct {
	BuildRadius          int     `yaml:"build_radius"`
	InitialBuildRadius   int     `yaml:"initial_build_radius"`
	NearPlayerMultiplier float64 `yaml:"near_player_multiplier"`
	RemoveMultiplier     float64 `yaml:"remove_multiplier"`
	LookAhead            float64 `yaml:"look_ahead"`
	OpsPerStep           int     `yaml:"ops_per_step"`
	EvictEveryCycles     int     `yaml:"evict_every_cycles"`
	AutosaveEveryTicks   int     `yaml:"autosave_every_ticks"`
	AutosaveDistance     float64 `yaml:"autosave_distance"`
}

type MeshTuning struct {
	Winding string `yaml:"winding"`
}

// Load reads tuning.yaml over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	g := gen.DefaultConfig()
	s := streamer.DefaultConfig()
	return Tuning{
		World: WorldTuning{Seed: 1337, ChunkSize: 16, WorldRows: 4, TickRateHz: s.TickRateHz},
		Noise: NoiseTuning{Height: noise.DefaultHeightParams(), Caves: noise.DefaultCaveParams()},
		Terrain: TerrainTuning{
			HeightScale:       g.HeightScale,
			UndergroundOffset: g.UndergroundOffset,
			WaterLevel:        g.WaterLevel,
			OreMin:            g.OreMin,
			OreMax:            g.OreMax,
			CaveFloor:         g.CaveFloor,
			CaveThreshold:     g.CaveThreshold,
			TreePermille:      g.TreePermille,
		},
		Streamer: StreamerTuning{
			BuildRadius:          s.BuildRadius,
			InitialBuildRadius:   s.InitialBuildRadius,
			NearPlayerMultiplier: s.NearPlayerMultiplier,
			RemoveMultiplier:     s.RemoveMultiplier,
			LookAhead:            s.LookAhead,
			OpsPerStep:           s.OpsPerStep,
			EvictEveryCycles:     s.EvictEveryCycles,
			AutosaveEveryTicks:   s.AutosaveEveryTicks,
			AutosaveDistance:     s.AutosaveDistance,
		},
		Mesh: MeshTuning{Winding: "cw"},
	}
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Noise.Height.Normalize()
	t.Noise.Caves.Normalize()
	if t.World.TickRateHz <= 0 {
		t.World.TickRateHz = 20
	}
	if t.Streamer.InitialBuildRadius < t.Streamer.BuildRadius {
		t.Streamer.InitialBuildRadius = t.Streamer.BuildRadius
	}
	t.Mesh.Winding = strings.ToLower(strings.TrimSpace(t.Mesh.Winding))
	if t.Mesh.Winding == "" {
		t.Mesh.Winding = "cw"
	}
}

func (t Tuning) Validate() error {
	if t.World.ChunkSize < 2 {
		return fmt.Errorf("world.chunk_size must be >= 2 (got %d)", t.World.ChunkSize)
	}
	if t.World.WorldRows < 1 {
		return fmt.Errorf("world.world_rows must be >= 1 (got %d)", t.World.WorldRows)
	}
	if t.Streamer.BuildRadius < 1 {
		return fmt.Errorf("streamer.build_radius must be >= 1 (got %d)", t.Streamer.BuildRadius)
	}
	if t.Streamer.RemoveMultiplier <= 1 {
		return fmt.Errorf("streamer.remove_multiplier must be > 1 (got %v)", t.Streamer.RemoveMultiplier)
	}
	if t.Streamer.OpsPerStep < 1 {
		return fmt.Errorf("streamer.ops_per_step must be >= 1 (got %d)", t.Streamer.OpsPerStep)
	}
	if t.Terrain.OreMin > t.Terrain.OreMax {
		return fmt.Errorf("terrain.ore_min > terrain.ore_max")
	}
	switch t.Mesh.Winding {
	case "cw", "ccw":
	default:
		return fmt.Errorf("mesh.winding must be cw or ccw (got %q)", t.Mesh.Winding)
	}
	return nil
}

func (t Tuning) Geometry() world.Geometry {
	return world.Geometry{ChunkSize: t.World.ChunkSize, Rows: t.World.WorldRows}
}

func (t Tuning) GenConfig() gen.Config {
	return gen.Config{
		Seed:              t.World.Seed,
		HeightScale:       t.Terrain.HeightScale,
		UndergroundOffset: t.Terrain.UndergroundOffset,
		WaterLevel:        t.Terrain.WaterLevel,
		OreMin:            t.Terrain.OreMin,
		OreMax:            t.Terrain.OreMax,
		CaveFloor:         t.Terrain.CaveFloor,
		CaveThreshold:     t.Terrain.CaveThreshold,
		TreePermille:      t.Terrain.TreePermille,
	}
}

// Generator builds the terrain generator with independently seeded height and cave fields.
func (t Tuning) Generator() *gen.Generator {
	return gen.New(t.GenConfig(),
		noise.NewField(t.World.Seed, t.Noise.Height),
		noise.NewField(t.World.Seed+1, t.Noise.Caves))
}

func (t Tuning) StreamerConfig() streamer.Config {
	s := t.Streamer
	return streamer.Config{
		BuildRadius:          s.BuildRadius,
		InitialBuildRadius:   s.InitialBuildRadius,
		NearPlayerMultiplier: s.NearPlayerMultiplier,
		RemoveMultiplier:     s.RemoveMultiplier,
		LookAhead:            s.LookAhead,
		OpsPerStep:           s.OpsPerStep,
		EvictEveryCycles:     s.EvictEveryCycles,
		AutosaveEveryTicks:   s.AutosaveEveryTicks,
		AutosaveDistance:     s.AutosaveDistance,
		TickRateHz:           t.World.TickRateHz,
	}
}

func (t Tuning) Winding() mesh.Winding { return mesh.ParseWinding(t.Mesh.Winding) }
