// Package streamer keeps the chunks around a moving observer built and meshed,
// and evicts and persists the ones it leaves behind.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world"
)

type Observation struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
}

// Progress is a snapshot for loading displays. Completed never decreases.
type Progress struct {
	Cycle     int  `json:"cycle"`
	Completed int  `json:"completed"`
	Target    int  `json:"target"`
	Loaded    int  `json:"loaded"`
	Building  bool `json:"building"`
}

type Options struct {
	Logger    *zap.Logger
	Recorders []Recorder
}

// Streamer is single-threaded: Update, Step, ApplyDig, AttachEntity, DetachEntity
// and SaveAll must only be called from the goroutine running Run (or from a test
// that drives the streamer directly). Observe, Dig, TrackEntity, UntrackEntity and
// Progress are safe from any goroutine.
type Streamer struct {
	cfg  Config
	env  *world.Env
	log  *zap.Logger
	rec  recorders
	base context.Context

	observed  bool
	obs       Observation
	lastBuild mgl64.Vec3
	center    world.ChunkCoord
	radius    int

	cycle     *cycle
	cycles    int
	finished  int
	completed int
	target    int

	evictQ []world.ChunkKey
	saveQ  []world.ChunkKey

	tick         uint64
	lastSaveTick uint64
	lastSavePos  mgl64.Vec3

	entities map[uuid.UUID]world.ChunkKey

	progress atomic.Value

	observeCh chan Observation
	digCh     chan digReq
	entityCh  chan entityReq
}

func New(cfg Config, env *world.Env, opts Options) (*Streamer, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("streamer config: %w", err)
	}
	if env == nil || env.Store == nil || env.Gen == nil || env.Mesher == nil {
		return nil, errors.New("streamer: env needs a store, generator and mesher")
	}
	if env.Geom.ChunkSize < 2 || env.Geom.Rows < 1 {
		return nil, fmt.Errorf("streamer: bad geometry %+v", env.Geom)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Streamer{
		cfg:       cfg,
		env:       env,
		log:       log,
		rec:       recorders(opts.Recorders),
		base:      context.Background(),
		entities:  map[uuid.UUID]world.ChunkKey{},
		observeCh: make(chan Observation, 1),
		digCh:     make(chan digReq, 16),
		entityCh:  make(chan entityReq, 64),
	}
	s.publish()
	return s, nil
}

func (s *Streamer) Config() Config { return s.cfg }
func (s *Streamer) Env() *world.Env { return s.env }

// Progress returns the last published snapshot.
func (s *Streamer) Progress() Progress {
	p, _ := s.progress.Load().(Progress)
	return p
}

func (s *Streamer) publish() {
	s.progress.Store(Progress{
		Cycle:     s.cycles,
		Completed: s.completed,
		Target:    s.target,
		Loaded:    s.env.Store.Len(),
		Building:  s.cycle != nil,
	})
}

// Reference projects the observer along its travel direction and returns the
// chunk column it lands in.
func (s *Streamer) Reference(o Observation) world.ChunkCoord {
	p := o.Position
	if l := o.Velocity.Len(); l > 0 && s.cfg.LookAhead > 0 {
		p = p.Add(o.Velocity.Mul(s.cfg.LookAhead / l))
	}
	c := s.env.Geom.CoordOf(p)
	c.Y = 0
	return c
}

// Update records an observation and starts a new build cycle when the observer
// has moved far enough since the last one.
func (s *Streamer) Update(o Observation) {
	s.obs = o
	if !s.observed {
		s.observed = true
		s.lastSavePos = o.Position
		s.startCycle(s.Reference(o), s.cfg.InitialBuildRadius)
		s.publish()
		return
	}
	threshold := float64(s.cfg.BuildRadius) * s.cfg.NearPlayerMultiplier
	if o.Position.Sub(s.lastBuild).Len() > threshold {
		s.startCycle(s.Reference(o), s.cfg.BuildRadius)
	}
	if s.cfg.AutosaveDistance > 0 && o.Position.Sub(s.lastSavePos).Len() >= s.cfg.AutosaveDistance {
		s.scheduleAutosave()
	}
	s.publish()
}

// Step runs at most OpsPerStep chunk operations and returns how many ran.
// Cycle work goes first, then queued evictions, then the autosave sweep.
func (s *Streamer) Step(ctx context.Context) int {
	s.tick++
	if s.cfg.AutosaveEveryTicks > 0 && s.tick-s.lastSaveTick >= uint64(s.cfg.AutosaveEveryTicks) {
		s.scheduleAutosave()
	}
	ops := 0
	for ops < s.cfg.OpsPerStep && ctx.Err() == nil {
		if !s.runOne(ctx) {
			break
		}
		ops++
	}
	s.publish()
	return ops
}

func (s *Streamer) runOne(ctx context.Context) bool {
	if s.cycle != nil && s.cycleOp() {
		return true
	}
	if len(s.evictQ) > 0 {
		key := s.evictQ[0]
		s.evictQ = s.evictQ[1:]
		s.evictOp(ctx, key)
		return true
	}
	if len(s.saveQ) > 0 {
		key := s.saveQ[0]
		s.saveQ = s.saveQ[1:]
		s.saveOp(ctx, key)
		return true
	}
	return false
}

// Idle reports whether no cycle, eviction or autosave work is pending.
func (s *Streamer) Idle() bool {
	return s.cycle == nil && len(s.evictQ) == 0 && len(s.saveQ) == 0
}

// Observer returns the last observation handed to Update.
func (s *Streamer) Observer() Observation { return s.obs }

// SaveAll synchronously persists every populated chunk. It keeps going after a
// failure and returns all errors joined.
func (s *Streamer) SaveAll(ctx context.Context) error {
	var errs []error
	for _, ch := range s.env.Store.Chunks() {
		if !ch.Populated() {
			continue
		}
		err := ch.Save(ctx)
		s.rec.RecordSave(SaveEvent{Key: ch.Key(), Reason: SaveShutdown, HasEntities: ch.HasEntities(), Err: err, At: now()})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.log.Warn("save all incomplete", zap.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}
