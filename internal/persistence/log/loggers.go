package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/streamer"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named <prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.PathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) PathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Entry is one line of the streamer event log.
type Entry struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`

	Chunk string `json:"chunk,omitempty"`

	Cycle     int    `json:"cycle,omitempty"`
	Center    [3]int `json:"center,omitempty"`
	Radius    int    `json:"radius,omitempty"`
	Built     int    `json:"built,omitempty"`
	Meshed    int    `json:"meshed,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	TookMS    int64  `json:"took_ms,omitempty"`

	Reason      string  `json:"reason,omitempty"`
	HasEntities bool    `json:"has_entities,omitempty"`
	Error       string  `json:"error,omitempty"`
	Distance    float64 `json:"distance,omitempty"`
	Saved       bool    `json:"saved,omitempty"`
	Kept        bool    `json:"kept,omitempty"`
}

// EventLog records streamer activity as compressed JSONL under <dir>/events.
type EventLog struct {
	w   *JSONLZstdWriter
	log *zap.Logger
}

func NewEventLog(dataDir string, logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events"), log: logger}
}

func (l *EventLog) write(e Entry) {
	if err := l.w.Write(e); err != nil {
		l.log.Warn("event log write failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func (l *EventLog) RecordCycle(e streamer.CycleEvent) {
	l.write(Entry{
		Type:      "cycle",
		At:        e.At,
		Cycle:     e.Cycle,
		Center:    [3]int{e.Center.X, e.Center.Y, e.Center.Z},
		Radius:    e.Radius,
		Built:     e.Built,
		Meshed:    e.Meshed,
		Failed:    e.Failed,
		Cancelled: e.Cancelled,
		TookMS:    e.Duration.Milliseconds(),
	})
}

func (l *EventLog) RecordSave(e streamer.SaveEvent) {
	en := Entry{Type: "save", At: e.At, Chunk: string(e.Key), Reason: string(e.Reason), HasEntities: e.HasEntities}
	if e.Err != nil {
		en.Error = e.Err.Error()
	}
	l.write(en)
}

func (l *EventLog) RecordEviction(e streamer.EvictionEvent) {
	l.write(Entry{Type: "evict", At: e.At, Chunk: string(e.Key), Distance: e.Distance, Saved: e.Saved, Kept: e.Kept})
}

func (l *EventLog) Close() error { return l.w.Close() }
