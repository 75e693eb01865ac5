package main

import (
	"bytes"
	"strings"
	"testing"

	"voxelstream.ai/internal/sim/streamer"
)

type fakeHub struct{ sent, dropped uint64 }

func (h fakeHub) Stats() (uint64, uint64) { return h.sent, h.dropped }

func TestWriteMetrics_ProgressAndHub(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, metricsSource{
		progress: func() streamer.Progress {
			return streamer.Progress{Cycle: 3, Completed: 40, Target: 49, Loaded: 61, Building: true}
		},
		hub:      fakeHub{sent: 12, dropped: 2},
		sessions: func() int { return 1 },
	})
	out := buf.String()
	for _, want := range []string{
		"voxelstream_loaded_chunks 61\n",
		"voxelstream_build_cycles_total 3\n",
		"voxelstream_chunks_completed_total 40\n",
		"voxelstream_chunks_target 49\n",
		"voxelstream_building 1\n",
		"voxelstream_observer_sessions 1\n",
		`voxelstream_mesh_push_total{outcome="dropped"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "voxelstream_index_") {
		t.Fatalf("index metrics without an index:\n%s", out)
	}
}

func TestOpenRuntimeIndex_Backends(t *testing.T) {
	dir := t.TempDir()

	idx, err := openRuntimeIndex(dir, true)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("VS_INDEX_BACKEND", "none")
	idx, err = openRuntimeIndex(dir, false)
	if err != nil || idx != nil {
		t.Fatalf("none: idx=%v err=%v", idx, err)
	}

	t.Setenv("VS_INDEX_BACKEND", "d1")
	if _, err := openRuntimeIndex(dir, false); err == nil {
		t.Fatalf("expected unsupported backend error")
	}

	t.Setenv("VS_INDEX_BACKEND", "sqlite")
	idx, err = openRuntimeIndex(dir, false)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer idx.Close()
	if s := idx.Stats(); s.QueueCapacity == 0 {
		t.Fatalf("stats=%+v", s)
	}
}
