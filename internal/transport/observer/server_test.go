package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/sim/streamer"
	"voxelstream.ai/internal/sim/world/voxel"
	"voxelstream.ai/internal/sim/worldtest"
)

type fixture struct {
	st  *streamer.Streamer
	hub *Hub
	ts  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env, _ := worldtest.NewEnv(t, 8, 1, worldtest.FlatGenerator(4))
	hub := NewHub(nil)
	env.Sink = hub

	cfg := streamer.DefaultConfig()
	cfg.BuildRadius = 1
	cfg.InitialBuildRadius = 1
	cfg.OpsPerStep = 16
	cfg.TickRateHz = 100
	st, err := streamer.New(cfg, env, streamer.Options{})
	if err != nil {
		t.Fatalf("streamer.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = st.Run(ctx) }()

	params := observerproto.WorldParams{TickRateHz: 100, ChunkSize: 8, WorldRows: 1, Seed: 7, BuildRadius: 1}
	mux := http.NewServeMux()
	NewServer(st, hub, params, nil).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &fixture{st: st, hub: hub, ts: ts}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until match returns true for one of them.
func readUntil(t *testing.T, conn *websocket.Conn, match func(typ string, raw []byte) bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env observerproto.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad message %s: %v", raw, err)
		}
		if match(env.Type, raw) {
			return
		}
	}
	t.Fatalf("no matching message before deadline")
}

func subscribe(t *testing.T, conn *websocket.Conn, meshes bool) {
	t.Helper()
	send(t, conn, observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		WantMeshes:      meshes,
		ProgressEveryMs: 50,
	})
	readUntil(t, conn, func(typ string, _ []byte) bool { return typ == observerproto.TypeProgress })
}

// waitBuilt observes at pos and waits for the first cycle to finish.
func waitBuilt(t *testing.T, conn *websocket.Conn, meshed map[string]int) {
	t.Helper()
	send(t, conn, observerproto.ObserveMsg{Type: observerproto.TypeObserve, Position: [3]float64{3, 5, 3}})
	readUntil(t, conn, func(typ string, raw []byte) bool {
		switch typ {
		case observerproto.TypeChunkMeshed:
			var m observerproto.ChunkMeshedMsg
			_ = json.Unmarshal(raw, &m)
			if meshed != nil {
				meshed[m.Key] = m.SolidQuads
			}
		case observerproto.TypeProgress:
			var p observerproto.ProgressMsg
			_ = json.Unmarshal(raw, &p)
			return p.Cycle >= 1 && !p.Building && p.Completed == p.Target
		}
		return false
	})
}

func TestBootstrap_ReportsParamsAndPalette(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.WorldParams.ChunkSize != 8 || b.WorldParams.Seed != 7 {
		t.Fatalf("unexpected bootstrap: %+v", b)
	}
	if len(b.BlockPalette) != len(voxel.Palette()) || b.BlockPalette[voxel.Grass] != "GRASS" {
		t.Fatalf("palette=%v", b.BlockPalette)
	}
	if b.Progress.Type != observerproto.TypeProgress {
		t.Fatalf("progress=%+v", b.Progress)
	}
}

func TestBootstrap_RejectsPost(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/v1/observer/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestWS_RequiresSubscribeFirst(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	send(t, conn, observerproto.ObserveMsg{Type: observerproto.TypeObserve})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWS_ObserveStreamsMeshesAndProgress(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, true)
	if f.hub.Sessions() != 1 {
		t.Fatalf("sessions=%d", f.hub.Sessions())
	}

	meshed := map[string]int{}
	waitBuilt(t, conn, meshed)
	// Radius 1 ring in a single chunk row.
	if len(meshed) != 9 {
		t.Fatalf("meshed %d chunks: %v", len(meshed), meshed)
	}
	if meshed["0_0_0"] == 0 {
		t.Fatalf("origin chunk has no solid quads")
	}
	if p := f.st.Progress(); p.Loaded != 9 {
		t.Fatalf("progress=%+v", p)
	}
}

func TestWS_DigAndChunkInfo(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, false)
	waitBuilt(t, conn, nil)

	send(t, conn, observerproto.DigMsg{Type: observerproto.TypeDig, ReqID: "d1", Pos: [3]int{2, 3, 2}})
	var res observerproto.DigResultMsg
	readUntil(t, conn, func(typ string, raw []byte) bool {
		if typ != observerproto.TypeDigResult {
			return false
		}
		_ = json.Unmarshal(raw, &res)
		return true
	})
	if !res.OK || res.ReqID != "d1" || res.Error != "" {
		t.Fatalf("dig result=%+v", res)
	}

	resp, err := http.Get(f.ts.URL + "/v1/chunk?key=0_0_0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var info observerproto.ChunkInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !info.Meshed || info.SolidQuads == 0 {
		t.Fatalf("chunk info=%+v", info)
	}
}

func TestChunkHandler_Errors(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct {
		query string
		want  int
	}{
		{"key=bogus", http.StatusBadRequest},
		{"key=70_0_70", http.StatusNotFound},
	} {
		resp, err := http.Get(f.ts.URL + "/v1/chunk?" + tc.query)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status=%d want %d", tc.query, resp.StatusCode, tc.want)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"::1":            true,
		"10.0.0.4:80":    false,
		"example:80":     false,
		"":               false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%q: got %v want %v", addr, got, want)
		}
	}
}

func TestNormalizeSubscribe_Clamps(t *testing.T) {
	sub := observerproto.SubscribeMsg{ProgressEveryMs: 1}
	normalizeSubscribe(&sub)
	if sub.ProgressEveryMs != 50 {
		t.Fatalf("low clamp=%d", sub.ProgressEveryMs)
	}
	sub = observerproto.SubscribeMsg{ProgressEveryMs: 60_000}
	normalizeSubscribe(&sub)
	if sub.ProgressEveryMs != 10_000 {
		t.Fatalf("high clamp=%d", sub.ProgressEveryMs)
	}
	sub = observerproto.SubscribeMsg{}
	normalizeSubscribe(&sub)
	if sub.ProgressEveryMs != 500 {
		t.Fatalf("default=%d", sub.ProgressEveryMs)
	}
}
