package streamer

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"voxelstream.ai/internal/sim/world"
)

type digReq struct {
	Pos  world.Vec3i
	Resp chan digResult
}

type digResult struct {
	OK  bool
	Err error
}

type entityReq struct {
	Attach bool
	Pos    mgl64.Vec3
	ID     uuid.UUID
	Resp   chan bool
}

// Run owns the streamer until ctx is done: one Step per tick, with observations,
// edits and entity registrations applied between ticks.
func (s *Streamer) Run(ctx context.Context) error {
	s.base = ctx
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRateHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.cycle != nil {
				s.cycle.cancel()
			}
			return ctx.Err()
		case o := <-s.observeCh:
			s.Update(o)
		case req := <-s.digCh:
			ok, err := s.ApplyDig(ctx, req.Pos)
			req.Resp <- digResult{OK: ok, Err: err}
			s.publish()
		case req := <-s.entityCh:
			var ok bool
			if req.Attach {
				ok = s.AttachEntity(req.Pos, req.ID)
			} else {
				ok = s.DetachEntity(req.ID)
			}
			if req.Resp != nil {
				req.Resp <- ok
			}
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Observe hands the latest observer state to the loop. Older pending
// observations are dropped.
func (s *Streamer) Observe(o Observation) {
	select {
	case s.observeCh <- o:
		return
	default:
	}
	select {
	case <-s.observeCh:
	default:
	}
	select {
	case s.observeCh <- o:
	default:
	}
}

// Dig asks the loop to clear one block and waits for the result.
func (s *Streamer) Dig(ctx context.Context, p world.Vec3i) (bool, error) {
	req := digReq{Pos: p, Resp: make(chan digResult, 1)}
	select {
	case s.digCh <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case res := <-req.Resp:
		return res.OK, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Streamer) TrackEntity(ctx context.Context, pos mgl64.Vec3, id uuid.UUID) (bool, error) {
	return s.entityCall(ctx, entityReq{Attach: true, Pos: pos, ID: id})
}

func (s *Streamer) UntrackEntity(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.entityCall(ctx, entityReq{ID: id})
}

func (s *Streamer) entityCall(ctx context.Context, req entityReq) (bool, error) {
	req.Resp = make(chan bool, 1)
	select {
	case s.entityCh <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.Resp:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
