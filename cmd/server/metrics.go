package main

import (
	"fmt"
	"io"

	"voxelstream.ai/internal/sim/streamer"
)

type metricsSource struct {
	progress func() streamer.Progress
	hub      interface{ Stats() (uint64, uint64) }
	sessions func() int
	index    runtimeIndex
}

// writeMetrics renders a minimal Prometheus exposition.
func writeMetrics(w io.Writer, src metricsSource) {
	p := src.progress()

	fmt.Fprintf(w, "# HELP voxelstream_loaded_chunks Chunks currently registered.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_loaded_chunks gauge\n")
	fmt.Fprintf(w, "voxelstream_loaded_chunks %d\n", p.Loaded)

	fmt.Fprintf(w, "# HELP voxelstream_build_cycles_total Build cycles started.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_build_cycles_total counter\n")
	fmt.Fprintf(w, "voxelstream_build_cycles_total %d\n", p.Cycle)

	fmt.Fprintf(w, "# HELP voxelstream_chunks_completed_total Chunks meshed across all cycles.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_chunks_completed_total counter\n")
	fmt.Fprintf(w, "voxelstream_chunks_completed_total %d\n", p.Completed)

	fmt.Fprintf(w, "# HELP voxelstream_chunks_target Completion target of the current cycle.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_chunks_target gauge\n")
	fmt.Fprintf(w, "voxelstream_chunks_target %d\n", p.Target)

	building := 0
	if p.Building {
		building = 1
	}
	fmt.Fprintf(w, "# HELP voxelstream_building Whether a build cycle is in flight.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_building gauge\n")
	fmt.Fprintf(w, "voxelstream_building %d\n", building)

	if src.hub != nil {
		sent, dropped := src.hub.Stats()
		fmt.Fprintf(w, "# HELP voxelstream_observer_sessions Connected observers receiving meshes.\n")
		fmt.Fprintf(w, "# TYPE voxelstream_observer_sessions gauge\n")
		fmt.Fprintf(w, "voxelstream_observer_sessions %d\n", src.sessions())
		fmt.Fprintf(w, "# HELP voxelstream_mesh_push_total CHUNK_MESHED pushes by outcome.\n")
		fmt.Fprintf(w, "# TYPE voxelstream_mesh_push_total counter\n")
		fmt.Fprintf(w, "voxelstream_mesh_push_total{outcome=%q} %d\n", "sent", sent)
		fmt.Fprintf(w, "voxelstream_mesh_push_total{outcome=%q} %d\n", "dropped", dropped)
	}

	if src.index != nil {
		s := src.index.Stats()
		fmt.Fprintf(w, "# HELP voxelstream_index_queue_depth Pending index writes.\n")
		fmt.Fprintf(w, "# TYPE voxelstream_index_queue_depth gauge\n")
		fmt.Fprintf(w, "voxelstream_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(w, "# HELP voxelstream_index_dropped_total Index writes dropped on a full queue.\n")
		fmt.Fprintf(w, "# TYPE voxelstream_index_dropped_total counter\n")
		fmt.Fprintf(w, "voxelstream_index_dropped_total{kind=%q} %d\n", "cycle", s.DropCycleTotal)
		fmt.Fprintf(w, "voxelstream_index_dropped_total{kind=%q} %d\n", "save", s.DropSaveTotal)
		fmt.Fprintf(w, "voxelstream_index_dropped_total{kind=%q} %d\n", "eviction", s.DropEvictionTotal)
	}
}
