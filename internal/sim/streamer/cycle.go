package streamer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/logic/mathx"
)

var now = time.Now

type pass uint8

const (
	passEnsure pass = iota
	passTerrain
	passDecorate
	passMesh
)

func (p pass) String() string {
	switch p {
	case passEnsure:
		return "ensure"
	case passTerrain:
		return "terrain"
	case passDecorate:
		return "decorate"
	default:
		return "mesh"
	}
}

// cycle is one resumable build around a reference coordinate. Every pass is a
// queue of per-chunk operations; Step pops them in bounded batches.
type cycle struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
	center world.ChunkCoord
	radius int

	pass  pass
	queue []world.ChunkCoord
	next  int

	started time.Time
	built   int
	meshed  int
	failed  int
}

// ringOrder lists the coordinates of a square of the given radius, nearest ring
// first, every chunk row of a column together.
func ringOrder(center world.ChunkCoord, radius, rows int) []world.ChunkCoord {
	out := make([]world.ChunkCoord, 0, (2*radius+1)*(2*radius+1)*rows)
	column := func(x, z int) {
		for y := 0; y < rows; y++ {
			out = append(out, world.ChunkCoord{X: x, Y: y, Z: z})
		}
	}
	column(center.X, center.Z)
	for r := 1; r <= radius; r++ {
		x0, x1 := center.X-r, center.X+r
		z0, z1 := center.Z-r, center.Z+r
		for x := x0; x <= x1; x++ {
			column(x, z0)
		}
		for z := z0 + 1; z <= z1-1; z++ {
			column(x1, z)
		}
		for x := x1; x >= x0; x-- {
			column(x, z1)
		}
		for z := z1 - 1; z >= z0+1; z-- {
			column(x0, z)
		}
	}
	return out
}

func (s *Streamer) inRadius(c world.ChunkCoord, center world.ChunkCoord, radius int) bool {
	return s.env.Geom.InWorld(c) && mathx.Chebyshev(c.X, c.Z, center.X, center.Z) <= radius
}

func (s *Streamer) startCycle(center world.ChunkCoord, radius int) {
	if s.cycle != nil {
		s.cycle.cancel()
		s.finishCycle(true)
	}
	s.cycles++
	ctx, cancel := context.WithCancel(s.base)
	c := &cycle{
		id:      s.cycles,
		ctx:     ctx,
		cancel:  cancel,
		center:  center,
		radius:  radius,
		pass:    passEnsure,
		queue:   ringOrder(center, radius, s.env.Geom.Rows),
		started: now(),
	}
	s.cycle = c
	s.center, s.radius = center, radius
	s.lastBuild = s.obs.Position

	pending := 0
	for _, ch := range s.env.Store.Chunks() {
		if ch.Status() < world.StatusDone {
			pending++
		}
	}
	for _, coord := range c.queue {
		if _, ok := s.env.Store.Lookup(s.env.Geom.Key(coord)); !ok {
			pending++
		}
	}
	s.target = s.completed + pending
	s.log.Debug("build cycle started",
		zap.Int("cycle", c.id),
		zap.Stringer("center", center),
		zap.Int("radius", radius),
		zap.Int("pending", pending))
}

// cycleOp runs one operation of the current pass. It returns false once the cycle
// has finished and there was nothing left to do.
func (s *Streamer) cycleOp() bool {
	c := s.cycle
	for c.next >= len(c.queue) {
		if c.pass == passMesh {
			s.finishCycle(false)
			return false
		}
		c.pass++
		c.queue = s.passQueue(c)
		c.next = 0
	}
	coord := c.queue[c.next]
	c.next++

	key := s.env.Geom.Key(coord)
	if c.pass == passEnsure {
		if _, ok := s.env.Store.Lookup(key); !ok {
			ch := world.NewChunk(s.env, coord)
			ch.MarkDraw()
			if err := s.env.Store.Insert(ch); err != nil {
				s.log.Error("register chunk", zap.String("chunk", string(key)), zap.Error(err))
			}
		}
		return true
	}

	ch, ok := s.env.Store.Lookup(key)
	if !ok {
		return true
	}
	switch c.pass {
	case passTerrain:
		if ch.Populated() {
			return true
		}
		if err := ch.BuildChunk(c.ctx); err != nil {
			// Drop the placeholder; the next cycle that covers it retries the load.
			s.env.Store.Remove(key)
			c.failed++
			s.log.Warn("build chunk failed", zap.String("chunk", string(key)), zap.Int("cycle", c.id), zap.Error(err))
			return true
		}
		c.built++
	case passDecorate:
		ch.Decorate()
	case passMesh:
		if !ch.Populated() {
			return true
		}
		if ch.Status() < world.StatusDone {
			ch.BuildBlocks()
			c.meshed++
			s.completed++
		}
		if s.inRadius(coord, c.center, c.radius) {
			ch.MarkKeep()
		}
	}
	return true
}

// passQueue snapshots the registry for the next pass. It covers every registered
// chunk, so leftovers of a cancelled cycle are finished here as well.
func (s *Streamer) passQueue(c *cycle) []world.ChunkCoord {
	var out []world.ChunkCoord
	for _, ch := range s.env.Store.Chunks() {
		var want bool
		switch c.pass {
		case passTerrain:
			want = !ch.Populated()
		case passDecorate:
			want = ch.Populated() && !ch.Decorated()
		case passMesh:
			want = ch.Populated() && (ch.Status() < world.StatusDone || (ch.Status() == world.StatusDone && s.inRadius(ch.Coord, c.center, c.radius)))
		}
		if want {
			out = append(out, ch.Coord)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di := mathx.Chebyshev(out[i].X, out[i].Z, c.center.X, c.center.Z)
		dj := mathx.Chebyshev(out[j].X, out[j].Z, c.center.X, c.center.Z)
		return di < dj
	})
	return out
}

func (s *Streamer) finishCycle(cancelled bool) {
	c := s.cycle
	s.cycle = nil
	c.cancel()
	if !cancelled {
		s.finished++
		if s.finished%s.cfg.EvictEveryCycles == 0 {
			s.scheduleEviction()
		}
	}
	ev := CycleEvent{
		Cycle:     c.id,
		Center:    c.center,
		Radius:    c.radius,
		Built:     c.built,
		Meshed:    c.meshed,
		Failed:    c.failed,
		Cancelled: cancelled,
		Duration:  now().Sub(c.started),
		At:        now(),
	}
	s.rec.RecordCycle(ev)
	s.log.Info("build cycle finished",
		zap.Int("cycle", c.id),
		zap.Bool("cancelled", cancelled),
		zap.String("pass", c.pass.String()),
		zap.Int("built", c.built),
		zap.Int("meshed", c.meshed),
		zap.Int("failed", c.failed),
		zap.Duration("took", ev.Duration))
}
