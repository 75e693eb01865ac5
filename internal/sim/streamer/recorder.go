package streamer

import (
	"time"

	"voxelstream.ai/internal/sim/world"
)

// CycleEvent summarizes one build cycle, finished or cancelled.
type CycleEvent struct {
	Cycle     int
	Center    world.ChunkCoord
	Radius    int
	Built     int
	Meshed    int
	Failed    int
	Cancelled bool
	Duration  time.Duration
	At        time.Time
}

type SaveReason string

const (
	SaveAutosave SaveReason = "autosave"
	SaveEvict    SaveReason = "evict"
	SaveEdit     SaveReason = "edit"
	SaveShutdown SaveReason = "shutdown"
)

type SaveEvent struct {
	Key         world.ChunkKey
	Reason      SaveReason
	HasEntities bool
	Err         error
	At          time.Time
}

type EvictionEvent struct {
	Key      world.ChunkKey
	Distance float64
	Saved    bool
	// Kept is set when the entity save failed and the chunk stays registered.
	Kept bool
	At   time.Time
}

// Recorder receives streamer activity for read models and audit logs. Calls come
// from the streamer goroutine and must not block for long.
type Recorder interface {
	RecordCycle(CycleEvent)
	RecordSave(SaveEvent)
	RecordEviction(EvictionEvent)
}

type recorders []Recorder

func (rs recorders) RecordCycle(e CycleEvent) {
	for _, r := range rs {
		r.RecordCycle(e)
	}
}

func (rs recorders) RecordSave(e SaveEvent) {
	for _, r := range rs {
		r.RecordSave(e)
	}
}

func (rs recorders) RecordEviction(e EvictionEvent) {
	for _, r := range rs {
		r.RecordEviction(e)
	}
}
