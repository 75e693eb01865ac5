package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/persistence/chunkfile"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/streamer"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (empty: built-in defaults)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
		logDev     = flag.Bool("log_dev", false, "human-readable development logging")
		prewarm    = flag.Bool("prewarm", true, "start building around the world origin before any observer connects")
	)
	flag.Parse()

	logger := newLogger(*logDev)
	defer func() { _ = logger.Sync() }()

	tune, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatal("load tuning", zap.Error(err))
		}
		logger.Warn("tuning not found; using defaults", zap.String("path", *tuningPath))
		tune = tuning.Defaults()
	}
	geom := tune.Geometry()

	chunks, err := chunkfile.New(filepath.Join(*dataDir, "chunks"), geom.Cells())
	if err != nil {
		logger.Fatal("open chunk store", zap.Error(err))
	}

	// Optional: read-model index (the chunk files stay authoritative).
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatal("open index backend", zap.Error(err))
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertMeta(tune); err != nil {
			logger.Warn("index backend: upsert meta", zap.Error(err))
		}
	}

	events := persistlog.NewEventLog(*dataDir, logger.Named("events"))
	defer events.Close()

	hub := observer.NewHub(logger.Named("hub"))
	env := &world.Env{
		Geom:      geom,
		Gen:       tune.Generator(),
		Store:     world.NewChunkStore(),
		Persist:   chunks,
		Mesher:    mesh.NewBuilder(tune.Winding()),
		Materials: world.StaticMaterials{Solid: "terrain", Fluid: "water"},
		Sink:      hub,
	}

	recs := []streamer.Recorder{events}
	if idx != nil {
		recs = append(recs, idx)
	}
	st, err := streamer.New(tune.StreamerConfig(), env, streamer.Options{Logger: logger.Named("streamer"), Recorders: recs})
	if err != nil {
		logger.Fatal("streamer", zap.Error(err))
	}
	if *prewarm {
		st.Observe(streamer.Observation{Position: mgl64.Vec3{0, float64(tune.Terrain.WaterLevel), 0}})
	}

	ctx, cancel := signalContext()
	defer cancel()

	// The streamer goroutine owns every chunk, so the final save runs there too.
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := st.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("streamer stopped", zap.Error(err))
		}
		saveCtx, cancelSave := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelSave()
		if err := st.SaveAll(saveCtx); err != nil {
			logger.Error("final save", zap.Error(err))
		}
		logger.Info("world saved", zap.Int("chunks", env.Store.Len()))
		env.Store.Clear()
	}()

	obsSrv := observer.NewServer(st, hub, observerproto.WorldParams{
		TickRateHz:  tune.World.TickRateHz,
		ChunkSize:   tune.World.ChunkSize,
		WorldRows:   tune.World.WorldRows,
		Seed:        tune.World.Seed,
		BuildRadius: tune.Streamer.BuildRadius,
	}, logger.Named("observer"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, metricsSource{progress: st.Progress, hub: hub, sessions: hub.Sessions, index: idx})
	})
	obsSrv.Register(mux)
	if envBool("VS_ENABLE_PPROF_HTTP", defaultEnablePprof()) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Info("pprof endpoints disabled (VS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", *addr), zap.String("data", *dataDir), zap.Int64("seed", tune.World.Seed))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", zap.Error(err))
		cancel()
	}
	<-runDone
	logger.Info("stopped")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewExample()
	}
	return l
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
