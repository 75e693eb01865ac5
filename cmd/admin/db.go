package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd queries the read-model index written by the server.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	key := fs.String("key", "", "chunk_key filter (saves, evictions)")
	_ = fs.Parse(args)

	q := "cycles"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fail(1, "open:", err)
	}
	defer db.Close()

	rows, err := runQuery(db, q, *key, *limit)
	if err != nil {
		fail(1, "query:", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		_ = enc.Encode(r)
	}
}

func runQuery(db *sql.DB, q, key string, limit int) ([]map[string]any, error) {
	switch q {
	case "meta":
		return queryRows(db, `SELECT key,value FROM meta ORDER BY key`)
	case "cycles":
		return queryRows(db, `SELECT cycle,center_x,center_z,radius,built,meshed,failed,cancelled,duration_ms,recorded_at
			FROM build_cycles ORDER BY id DESC LIMIT ?`, limit)
	case "saves":
		if key != "" {
			return queryRows(db, `SELECT chunk_key,reason,has_entities,error,recorded_at FROM chunk_saves
				WHERE chunk_key=? ORDER BY id DESC LIMIT ?`, key, limit)
		}
		return queryRows(db, `SELECT chunk_key,reason,has_entities,error,recorded_at FROM chunk_saves
			ORDER BY id DESC LIMIT ?`, limit)
	case "failed_saves":
		return queryRows(db, `SELECT chunk_key,reason,error,recorded_at FROM chunk_saves
			WHERE error IS NOT NULL AND error != '' ORDER BY id DESC LIMIT ?`, limit)
	case "chunks":
		return queryRows(db, `SELECT chunk_key,saves,last_saved_at,has_entities FROM chunks
			ORDER BY saves DESC, chunk_key LIMIT ?`, limit)
	case "evictions":
		if key != "" {
			return queryRows(db, `SELECT chunk_key,distance,saved,kept,recorded_at FROM evictions
				WHERE chunk_key=? ORDER BY id DESC LIMIT ?`, key, limit)
		}
		return queryRows(db, `SELECT chunk_key,distance,saved,kept,recorded_at FROM evictions
			ORDER BY id DESC LIMIT ?`, limit)
	default:
		return nil, fmt.Errorf("unknown query %q (meta|cycles|saves|failed_saves|chunks|evictions)", q)
	}
}

func queryRows(db *sql.DB, q string, args ...any) ([]map[string]any, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				m[c] = string(b)
				continue
			}
			m[c] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
