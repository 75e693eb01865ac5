package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/sim/streamer"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of streamer activity. Writes go through a
// buffered channel to one writer goroutine; the chunk files stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCycle    atomic.Uint64
	dropSave     atomic.Uint64
	dropEviction atomic.Uint64
}

type reqKind int

const (
	reqCycle reqKind = iota + 1
	reqSave
	reqEviction
)

type req struct {
	kind reqKind

	cycle    streamer.CycleEvent
	save     streamer.SaveEvent
	eviction streamer.EvictionEvent
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropCycleTotal    uint64
	DropSaveTotal     uint64
	DropEvictionTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS build_cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle INTEGER NOT NULL,
			center_x INTEGER NOT NULL,
			center_z INTEGER NOT NULL,
			radius INTEGER NOT NULL,
			built INTEGER NOT NULL,
			meshed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_key TEXT NOT NULL,
			reason TEXT NOT NULL,
			has_entities INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_saves_key ON chunk_saves(chunk_key, id);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_key TEXT PRIMARY KEY,
			saves INTEGER NOT NULL,
			last_saved_at TEXT NOT NULL,
			has_entities INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS evictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_key TEXT NOT NULL,
			distance REAL NOT NULL,
			saved INTEGER NOT NULL,
			kept INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evictions_key ON evictions(chunk_key, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropCycleTotal:    s.dropCycle.Load(),
		DropSaveTotal:     s.dropSave.Load(),
		DropEvictionTotal: s.dropEviction.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; it is a read model only.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordCycle(e streamer.CycleEvent) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqCycle, cycle: e}, &s.dropCycle)
}

func (s *SQLiteIndex) RecordSave(e streamer.SaveEvent) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSave, save: e}, &s.dropSave)
}

func (s *SQLiteIndex) RecordEviction(e streamer.EvictionEvent) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqEviction, eviction: e}, &s.dropEviction)
}

// UpsertMeta stores the applied tuning and geometry so an index can be matched
// to the world that wrote it.
func (s *SQLiteIndex) UpsertMeta(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	g := t.Geometry()
	rows := map[string]string{
		"schema_version": "1",
		"seed":           fmt.Sprint(t.World.Seed),
		"chunk_size":     fmt.Sprint(g.ChunkSize),
		"world_rows":     fmt.Sprint(g.Rows),
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range rows {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ChunkSummary is the latest save state of one chunk.
type ChunkSummary struct {
	Key         world.ChunkKey
	Saves       int
	LastSavedAt string
	HasEntities bool
}

func (s *SQLiteIndex) Chunk(ctx context.Context, key world.ChunkKey) (ChunkSummary, bool, error) {
	out := ChunkSummary{Key: key}
	var ent int
	err := s.db.QueryRowContext(ctx,
		`SELECT saves,last_saved_at,has_entities FROM chunks WHERE chunk_key=?`, string(key)).
		Scan(&out.Saves, &out.LastSavedAt, &ent)
	if err == sql.ErrNoRows {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.HasEntities = ent != 0
	return out, true, nil
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return v, err == nil, err
}

func (s *SQLiteIndex) count(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) CycleCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM build_cycles WHERE cancelled=0`)
}

func (s *SQLiteIndex) EvictionCount(ctx context.Context, key world.ChunkKey) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM evictions WHERE chunk_key=? AND kept=0`, string(key))
}

func (s *SQLiteIndex) FailedSaveCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM chunk_saves WHERE error IS NOT NULL`)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertCycle, _ := s.db.Prepare(`INSERT INTO build_cycles(cycle,center_x,center_z,radius,built,meshed,failed,cancelled,duration_ms,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT INTO chunk_saves(chunk_key,reason,has_entities,error,recorded_at) VALUES(?,?,?,?,?)`)
	upsertChunk, _ := s.db.Prepare(`INSERT INTO chunks(chunk_key,saves,last_saved_at,has_entities) VALUES(?,1,?,?)
		ON CONFLICT(chunk_key) DO UPDATE SET saves=saves+1, last_saved_at=excluded.last_saved_at, has_entities=excluded.has_entities`)
	insertEviction, _ := s.db.Prepare(`INSERT INTO evictions(chunk_key,distance,saved,kept,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertCycle, insertSave, upsertChunk, insertEviction} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqCycle:
			c := r.cycle
			exec(insertCycle, c.Cycle, c.Center.X, c.Center.Z, c.Radius, c.Built, c.Meshed, c.Failed,
				boolInt(c.Cancelled), c.Duration.Milliseconds(), stamp(c.At))

		case reqSave:
			sv := r.save
			var errText any
			if sv.Err != nil {
				errText = sv.Err.Error()
			}
			at := stamp(sv.At)
			if !exec(insertSave, string(sv.Key), string(sv.Reason), boolInt(sv.HasEntities), errText, at) {
				continue
			}
			if sv.Err == nil {
				exec(upsertChunk, string(sv.Key), at, boolInt(sv.HasEntities))
			}

		case reqEviction:
			e := r.eviction
			exec(insertEviction, string(e.Key), e.Distance, boolInt(e.Saved), boolInt(e.Kept), stamp(e.At))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}

	commit()
}
