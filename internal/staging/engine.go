// Package staging implements the staging engine (C4): durable, crash-safe
// buffering of incoming records as append-only row-group files keyed by
// (stream, minute, customparts, fingerprint), with rotation, recovery, and
// backpressure.
package staging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/pkg/ulid"
)

const (
	// DefaultRotationInterval is the max age of an Open file before rotation.
	DefaultRotationInterval = time.Minute
	// DefaultRotationBytes is the max size of an Open file before rotation.
	DefaultRotationBytes = 128 * 1024 * 1024

	defaultHighWatermark = 0.80
	defaultLowWatermark  = 0.60
)

// openFile is one Open StagingFile: an os.File plus the short exclusive
// latch that coordinates appenders against the rotator.
type openFile struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	name     model.StagingFileName
	openedAt time.Time
	size     int64
}

// Engine owns every Open staging file for this process.
type Engine struct {
	dir      string
	hostname string
	gen      *ulid.Generator
	index    *Index

	rotationInterval time.Duration
	rotationBytes    int64
	capBytes         int64

	usedBytes int64 // atomic
	tripped   int32 // atomic bool: backpressure latched until usedBytes falls below the low watermark

	mu    sync.Mutex
	files map[model.StagingKey]*openFile

	ingestCounters sync.Map // stream -> *streamCounters
}

// streamCounters are the per-stream ingest bookkeeping counters surfaced for
// in-process observability only: nothing here is exported over the wire.
type streamCounters struct {
	eventsIngested int64
	bytesIngested  int64
}

// New creates a staging Engine rooted at dir with the given capacity cap.
func New(dir, hostname string, capBytes int64) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	index, err := OpenIndex(filepath.Join(dir, ".staging_index.db"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		dir:              dir,
		hostname:         hostname,
		gen:              ulid.NewGenerator(),
		index:            index,
		rotationInterval: DefaultRotationInterval,
		rotationBytes:    DefaultRotationBytes,
		capBytes:         capBytes,
		files:            make(map[model.StagingKey]*openFile),
	}, nil
}

// Close releases the engine's local index handle. It does not rotate or
// close any Open files; call RotateAll first for a clean shutdown.
func (e *Engine) Close() error {
	return e.index.Close()
}

// UsedBytes returns the current staging disk usage estimate.
func (e *Engine) UsedBytes() int64 {
	return atomic.LoadInt64(&e.usedBytes)
}

func (e *Engine) highWatermark() int64 { return int64(float64(e.capBytes) * defaultHighWatermark) }
func (e *Engine) lowWatermark() int64  { return int64(float64(e.capBytes) * defaultLowWatermark) }

// overLimit reports whether backpressure is in effect. Crossing the high
// watermark latches backpressure on; it only releases once usage falls
// back below the low watermark, so a single byte of headroom below the
// high watermark does not immediately resume appends.
func (e *Engine) overLimit() bool {
	used := atomic.LoadInt64(&e.usedBytes)

	if atomic.LoadInt32(&e.tripped) == 1 {
		if used < e.lowWatermark() {
			atomic.StoreInt32(&e.tripped, 0)
			return false
		}
		return true
	}

	if used >= e.highWatermark() {
		atomic.StoreInt32(&e.tripped, 1)
		return true
	}
	return false
}

// Append writes records to the Open staging file for key, creating or
// rotating it as needed. Appenders never suspend once past latch
// acquisition: the write is synchronous and local.
func (e *Engine) Append(ctx context.Context, key model.StagingKey, records []json.RawMessage) error {
	if e.overLimit() {
		return apperrors.NewStagingError(apperrors.CodeStagingFull, "staging disk usage above high watermark", nil)
	}

	of, err := e.openFor(key)
	if err != nil {
		return err
	}

	of.mu.Lock()
	defer of.mu.Unlock()

	if e.needsRotationLocked(of) {
		if err := e.rotateLocked(key, of); err != nil {
			return err
		}
		of, err = e.openFor(key)
		if err != nil {
			return err
		}
		of.mu.Lock()
		defer of.mu.Unlock()
	}

	n, err := writeBlock(of.file, Block{Records: records, Timestamp: time.Now().UnixNano()})
	if err != nil {
		return apperrors.NewStagingError(apperrors.CodeStagingCorrupt, "failed to append staging block", err)
	}
	of.size += n
	atomic.AddInt64(&e.usedBytes, n)
	e.bumpCounters(key.Stream, len(records), n)

	return nil
}

func (e *Engine) bumpCounters(stream string, events int, bytes int64) {
	v, _ := e.ingestCounters.LoadOrStore(stream, &streamCounters{})
	c := v.(*streamCounters)
	atomic.AddInt64(&c.eventsIngested, int64(events))
	atomic.AddInt64(&c.bytesIngested, bytes)
}

// StreamCounters returns the in-process ingest counters for stream.
func (e *Engine) StreamCounters(stream string) (events, bytes int64) {
	v, ok := e.ingestCounters.Load(stream)
	if !ok {
		return 0, 0
	}
	c := v.(*streamCounters)
	return atomic.LoadInt64(&c.eventsIngested), atomic.LoadInt64(&c.bytesIngested)
}

func (e *Engine) needsRotationLocked(of *openFile) bool {
	return time.Since(of.openedAt) >= e.rotationInterval || of.size >= e.rotationBytes
}

// openFor returns the Open file for key, creating it if absent. At most one
// Open file exists per key per process (the at-most-one-open invariant).
func (e *Engine) openFor(key model.StagingKey) (*openFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if of, ok := e.files[key]; ok {
		return of, nil
	}

	id, err := e.gen.Generate()
	if err != nil {
		return nil, err
	}

	name := model.StagingFileName{
		Hostname:    e.hostname,
		Stream:      key.Stream,
		Minute:      key.MinuteBucket,
		CustomParts: key.CustomParts,
		Fingerprint: key.Fingerprint,
		ULID:        id,
		State:       model.StagingOpen,
	}

	path := filepath.Join(e.dir, name.String())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	of := &openFile{file: f, path: path, name: name, openedAt: time.Now()}
	e.files[key] = of

	if err := e.index.Upsert(name.String(), key.Stream, key.MinuteBucket, key.Fingerprint, string(model.StagingOpen)); err != nil {
		return nil, err
	}

	return of, nil
}

// RotateKey forces rotation of the Open file for key, if any. Used on
// shutdown (drain every key) and when a schema fingerprint changes.
func (e *Engine) RotateKey(key model.StagingKey) error {
	e.mu.Lock()
	of, ok := e.files[key]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	of.mu.Lock()
	defer of.mu.Unlock()
	return e.rotateLocked(key, of)
}

// rotateLocked flushes and renames of's file to Rotated, releasing ownership
// to the conversion engine by filename alone -- no in-memory handoff.
func (e *Engine) rotateLocked(key model.StagingKey, of *openFile) error {
	if err := of.file.Sync(); err != nil {
		return err
	}
	if err := of.file.Close(); err != nil {
		return err
	}

	rotatedName := of.name
	rotatedName.State = model.StagingRotated
	rotatedPath := filepath.Join(e.dir, rotatedName.String())

	if err := os.Rename(of.path, rotatedPath); err != nil {
		return err
	}

	if err := e.index.Upsert(rotatedName.String(), key.Stream, key.MinuteBucket, key.Fingerprint, string(model.StagingRotated)); err != nil {
		return err
	}
	if err := e.index.Remove(of.name.String()); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.files, key)
	e.mu.Unlock()

	return nil
}

// RotateAll rotates every currently Open file. Called on graceful shutdown.
func (e *Engine) RotateAll() error {
	e.mu.Lock()
	keys := make([]model.StagingKey, 0, len(e.files))
	for k := range e.files {
		keys = append(keys, k)
	}
	e.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := e.RotateKey(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dir returns the staging directory, for the conversion engine's claim scan.
func (e *Engine) Dir() string { return e.dir }

// ScanStream returns every record currently buffered for stream across
// Open and Rotated-but-not-yet-converted staging files, for the
// cluster-internal live query fan-out: a querier asks an ingestor for
// its staged, unpublished data directly rather than waiting for the
// next conversion tick.
func (e *Engine) ScanStream(stream string) ([]json.RawMessage, error) {
	e.mu.Lock()
	for k, of := range e.files {
		if k.Stream == stream {
			of.mu.Lock()
			of.file.Sync()
			of.mu.Unlock()
		}
	}
	e.mu.Unlock()

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := model.ParseStagingFileName(entry.Name())
		if err != nil || name.Stream != stream || name.State == model.StagingTombstoned {
			continue
		}
		blocks, err := ReadAllBlocks(filepath.Join(e.dir, entry.Name()))
		if err != nil {
			continue
		}
		for _, b := range blocks {
			records = append(records, b.Records...)
		}
	}
	return records, nil
}
