package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/sim/streamer"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/voxel"
)

const (
	defaultProgressEvery = 500 * time.Millisecond
	digTimeout           = 5 * time.Second
)

type Server struct {
	st     *streamer.Streamer
	hub    *Hub
	params observerproto.WorldParams
	log    *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(st *streamer.Streamer, hub *Hub, params observerproto.WorldParams, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		st:     st,
		hub:    hub,
		params: params,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Register mounts the observer routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", s.WSHandler())
	mux.HandleFunc("/v1/progress", s.ProgressHandler())
	mux.HandleFunc("/v1/chunk", s.ChunkHandler())
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowGet(rw, r) {
			return
		}
		writeJSON(rw, observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldParams:     s.params,
			BlockPalette:    voxel.Palette(),
			Progress:        progressMsg(s.st.Progress()),
		})
	}
}

func (s *Server) ProgressHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowGet(rw, r) {
			return
		}
		writeJSON(rw, progressMsg(s.st.Progress()))
	}
}

func (s *Server) ChunkHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowGet(rw, r) {
			return
		}
		key := world.ChunkKey(r.URL.Query().Get("key"))
		if _, err := world.ParseKey(key); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		ch, ok := s.st.Env().Store.Lookup(key)
		if !ok {
			http.Error(rw, "chunk not loaded", http.StatusNotFound)
			return
		}
		info := observerproto.ChunkInfo{Key: string(key), Entities: len(ch.Entities())}
		if m := ch.Mesh(); m != nil {
			info.Meshed = true
			info.SolidQuads = m.Solid.QuadCount()
			info.FluidQuads = m.Fluid.QuadCount()
		}
		writeJSON(rw, info)
	}
}

func (s *Server) allowGet(rw http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		log := s.log.With(zap.String("session", sid))
		log.Info("observer connected", zap.String("remote", r.RemoteAddr), zap.Bool("want_meshes", sub.WantMeshes))

		out := make(chan []byte, 256)
		settings := make(chan observerproto.SubscribeMsg, 1)
		settings <- sub
		defer s.hub.unsubscribe(sid)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, sid, out, settings) }()

		// Reader loop: SUBSCRIBE updates, OBSERVE and DIG.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var env observerproto.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			switch env.Type {
			case observerproto.TypeSubscribe:
				if sub, ok := parseSubscribe(msg); ok {
					replaceLatest(settings, sub)
				}
			case observerproto.TypeObserve:
				var o observerproto.ObserveMsg
				if err := json.Unmarshal(msg, &o); err != nil {
					continue
				}
				s.st.Observe(streamer.Observation{Position: mgl64.Vec3(o.Position), Velocity: mgl64.Vec3(o.Velocity)})
			case observerproto.TypeDig:
				var d observerproto.DigMsg
				if err := json.Unmarshal(msg, &d); err != nil {
					continue
				}
				b, _ := json.Marshal(s.dig(ctx, d))
				select {
				case out <- b:
				case <-ctx.Done():
				}
			default:
				log.Debug("unknown observer message", zap.String("type", env.Type))
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("observer disconnected")
	}
}

// writeLoop owns all writes to conn. It pushes PROGRESS whenever the snapshot
// changed since the last push, plus everything queued on out.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sid string, out chan []byte, settings <-chan observerproto.SubscribeMsg) error {
	ticker := time.NewTicker(defaultProgressEvery)
	defer ticker.Stop()
	defer s.hub.unsubscribe(sid)

	var last streamer.Progress
	sentOnce := false
	write := func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	// Meshes queued before the snapshot was published go out ahead of it.
	pushProgress := func() error {
		p := s.st.Progress()
		if sentOnce && p == last {
			return nil
		}
		for pending := len(out); pending > 0; pending-- {
			if err := write(<-out); err != nil {
				return err
			}
		}
		b, err := json.Marshal(progressMsg(p))
		if err != nil {
			return err
		}
		last, sentOnce = p, true
		return write(b)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-settings:
			if sub.WantMeshes {
				s.hub.subscribe(sid, out)
			} else {
				s.hub.unsubscribe(sid)
			}
			ticker.Reset(progressEvery(sub))
			if err := pushProgress(); err != nil {
				return err
			}
		case b := <-out:
			if err := write(b); err != nil {
				return err
			}
		case <-ticker.C:
			if err := pushProgress(); err != nil {
				return err
			}
		}
	}
}

func (s *Server) dig(ctx context.Context, d observerproto.DigMsg) observerproto.DigResultMsg {
	res := observerproto.DigResultMsg{Type: observerproto.TypeDigResult, ReqID: d.ReqID, Pos: d.Pos}
	dctx, cancel := context.WithTimeout(ctx, digTimeout)
	defer cancel()
	ok, err := s.st.Dig(dctx, world.Vec3i{X: d.Pos[0], Y: d.Pos[1], Z: d.Pos[2]})
	res.OK = ok
	if err != nil {
		res.Error = err.Error()
		s.log.Warn("dig failed", zap.Ints("pos", d.Pos[:]), zap.Error(err))
	}
	return res
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.ProgressEveryMs <= 0 {
		sub.ProgressEveryMs = int(defaultProgressEvery / time.Millisecond)
	}
	if sub.ProgressEveryMs < 50 {
		sub.ProgressEveryMs = 50
	}
	if sub.ProgressEveryMs > 10_000 {
		sub.ProgressEveryMs = 10_000
	}
}

func progressEvery(sub observerproto.SubscribeMsg) time.Duration {
	return time.Duration(sub.ProgressEveryMs) * time.Millisecond
}

func replaceLatest(ch chan observerproto.SubscribeMsg, v observerproto.SubscribeMsg) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func progressMsg(p streamer.Progress) observerproto.ProgressMsg {
	return observerproto.ProgressMsg{
		Type:            observerproto.TypeProgress,
		ProtocolVersion: observerproto.Version,
		Cycle:           p.Cycle,
		Completed:       p.Completed,
		Target:          p.Target,
		Loaded:          p.Loaded,
		Building:        p.Building,
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
