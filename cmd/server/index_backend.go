package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/streamer"
	"voxelstream.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	streamer.Recorder
	Close() error
	UpsertMeta(t tuning.Tuning) error
	Stats() indexdb.Stats
}

// openRuntimeIndex picks the read-model backend from VS_INDEX_BACKEND. A nil
// index means indexing is off; the streamer runs the same either way.
func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "world.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}
