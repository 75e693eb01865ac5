package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/mesh"
)

// Hub fans freshly combined meshes out to the sessions that asked for them.
// UploadMesh runs on the streamer goroutine and never blocks on a slow client.
type Hub struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[string]chan<- []byte

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{log: logger, subs: map[string]chan<- []byte{}}
}

func (h *Hub) UploadMesh(key world.ChunkKey, m *mesh.ChunkMesh) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}
	b, err := json.Marshal(meshedMsg(key, m))
	if err != nil {
		h.log.Error("marshal chunk mesh", zap.String("chunk", string(key)), zap.Error(err))
		return
	}
	for _, out := range h.subs {
		select {
		case out <- b:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) subscribe(sid string, out chan<- []byte) {
	h.mu.Lock()
	h.subs[sid] = out
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(sid string) {
	h.mu.Lock()
	delete(h.subs, sid)
	h.mu.Unlock()
}

func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stats reports pushed and dropped CHUNK_MESHED messages.
func (h *Hub) Stats() (sent, dropped uint64) {
	return h.sent.Load(), h.dropped.Load()
}

func meshedMsg(key world.ChunkKey, m *mesh.ChunkMesh) observerproto.ChunkMeshedMsg {
	return observerproto.ChunkMeshedMsg{
		Type:          observerproto.TypeChunkMeshed,
		Key:           string(key),
		SolidQuads:    m.Solid.QuadCount(),
		FluidQuads:    m.Fluid.QuadCount(),
		SolidMaterial: string(m.SolidMaterial),
		FluidMaterial: string(m.FluidMaterial),
	}
}
