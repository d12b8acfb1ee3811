package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/staging"
)

// DefaultInterval is how often the conversion engine ticks per stream.
const DefaultInterval = 60 * time.Second

func maxWorkers() int {
	if n := runtime.NumCPU(); n < 8 {
		if n < 1 {
			return 1
		}
		return n
	}
	return 8
}

// ManifestPublisher is the narrow seam convert uses to commit a conversion
// run's delta into the canonical manifest. Implemented by internal/manifest.
type ManifestPublisher interface {
	Publish(ctx context.Context, stream string, date string, delta []model.ArtifactEntry) error
}

// Engine runs the claim/group/convert/upload/publish/tombstone pipeline.
type Engine struct {
	staging  *staging.Engine
	store    objstore.Store
	catalog  *catalog.Catalog
	registry *schema.Registry
	manifest ManifestPublisher

	hostname string
	sem      chan struct{}
}

// New creates a conversion Engine wired to the staging engine, object store,
// stream catalog, schema registry, and manifest publisher it operates on.
func New(stagingEngine *staging.Engine, store objstore.Store, cat *catalog.Catalog, reg *schema.Registry, pub ManifestPublisher, hostname string) *Engine {
	return &Engine{
		staging:  stagingEngine,
		store:    store,
		catalog:  cat,
		registry: reg,
		manifest: pub,
		hostname: hostname,
		sem:      make(chan struct{}, maxWorkers()),
	}
}

// Tick runs one conversion pass over every known stream's Rotated files.
func (e *Engine) Tick(ctx context.Context) error {
	for _, cfg := range e.catalog.List() {
		if err := e.tickStream(ctx, cfg); err != nil {
			log.Printf("convert: stream %s conversion failed: %v", cfg.Name, err)
		}
	}
	return nil
}

func (e *Engine) tickStream(ctx context.Context, cfg model.StreamConfig) error {
	claimed, err := e.claim(cfg.Name)
	if err != nil {
		return fmt.Errorf("convert: claim failed for %s: %w", cfg.Name, err)
	}
	if len(claimed) == 0 {
		return nil
	}

	groups := groupByKey(claimed)

	var allEntries []model.ArtifactEntry
	var convertedFiles []model.StagingFileName
	for key, files := range groups {
		entries, err := e.convertGroup(ctx, cfg, key, files)
		if err != nil {
			log.Printf("convert: group %+v for stream %s failed: %v", key, cfg.Name, err)
			continue
		}
		allEntries = append(allEntries, entries...)
		convertedFiles = append(convertedFiles, files...)
	}

	if len(allEntries) > 0 {
		date := time.Now().UTC().Format("2006-01-02")
		if err := e.manifest.Publish(ctx, cfg.Name, date, allEntries); err != nil {
			return fmt.Errorf("convert: publish failed for %s: %w", cfg.Name, err)
		}
	}

	return e.tombstone(convertedFiles)
}

// claim atomically renames every Rotated file for stream to Claimed,
// returning their parsed names. A per-run epoch is implicit in the file's
// existing ULID, which is already unique.
func (e *Engine) claim(stream string) ([]model.StagingFileName, error) {
	entries, err := os.ReadDir(e.staging.Dir())
	if err != nil {
		return nil, err
	}

	var claimed []model.StagingFileName
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := model.ParseStagingFileName(entry.Name())
		if err != nil || name.Stream != stream || name.State != model.StagingRotated {
			continue
		}

		claimedName := name
		claimedName.State = model.StagingClaimed

		oldPath := filepath.Join(e.staging.Dir(), name.String())
		newPath := filepath.Join(e.staging.Dir(), claimedName.String())
		if err := os.Rename(oldPath, newPath); err != nil {
			continue // lost the race with another node's claim; skip
		}
		claimed = append(claimed, claimedName)
	}
	return claimed, nil
}

// stagingGroupKey mirrors the (minute, customparts, fingerprint) tuple
// every staging file is already keyed by (model.StagingKey); grouping
// claimed files by this tuple keeps one artifact's rows confined to the
// partition its key layout advertises.
type stagingGroupKey struct {
	minute      int64
	customParts string
	fingerprint uint64
}

func groupByKey(files []model.StagingFileName) map[stagingGroupKey][]model.StagingFileName {
	groups := make(map[stagingGroupKey][]model.StagingFileName)
	for _, f := range files {
		key := stagingGroupKey{minute: f.Minute, customParts: f.CustomParts, fingerprint: f.Fingerprint}
		groups[key] = append(groups[key], f)
	}
	return groups
}

// convertGroup decodes every file in one (minute, customparts, fingerprint)
// group, writes a single Parquet artifact plus its index sidecar, uploads
// both, and returns the manifest delta entry.
func (e *Engine) convertGroup(ctx context.Context, cfg model.StreamConfig, key stagingGroupKey, files []model.StagingFileName) ([]model.ArtifactEntry, error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	snap := e.registry.Snapshot(cfg.Name)

	indexed := append([]string{"timestamp"}, cfg.CustomPartitionFields...)

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("stratum-artifact-%x-%d.parquet", key.fingerprint, time.Now().UnixNano()))
	writer, err := NewArtifactWriter(tmpPath, snap, indexed)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)
	defer os.Remove(writer.SidecarPath())

	var minTS, maxTS time.Time
	for _, name := range files {
		path := filepath.Join(e.staging.Dir(), name.String())
		blocks, err := staging.ReadAllBlocks(path)
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("convert: failed to decode %s: %w", path, err)
		}
		for _, block := range blocks {
			for _, raw := range block.Records {
				var row map[string]interface{}
				if err := json.Unmarshal(raw, &row); err != nil {
					continue
				}
				if err := writer.WriteRow(row); err != nil {
					writer.Close()
					return nil, err
				}
				if ts, ok := extractTimestamp(row); ok {
					if minTS.IsZero() || ts.Before(minTS) {
						minTS = ts
					}
					if maxTS.IsZero() || ts.After(maxTS) {
						maxTS = ts
					}
				}
			}
		}
	}

	rowCount := writer.RowCount()
	if err := writer.Close(); err != nil {
		return nil, err
	}

	stats := writer.Stats()

	info, err := os.Stat(tmpPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, err
	}

	artifactULID := files[len(files)-1].ULID.String()
	objKey := artifactKey(cfg.Name, key.minute, key.customParts, artifactULID)
	if err := e.store.Put(ctx, objKey, data); err != nil {
		return nil, apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to upload artifact", err)
	}

	indexKey := objKey + ".idx"
	sidecar, err := os.ReadFile(writer.SidecarPath())
	if err != nil {
		return nil, fmt.Errorf("convert: failed to read index sidecar: %w", err)
	}
	if err := e.store.Put(ctx, indexKey, sidecar); err != nil {
		return nil, apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to upload index sidecar", err)
	}

	entry := model.ArtifactEntry{
		Key:      objKey,
		IndexKey: indexKey,
		MinTS:    minTS,
		MaxTS:    maxTS,
		Rows:     rowCount,
		ByteSize: info.Size(),
		ColStats: stats,
	}

	return []model.ArtifactEntry{entry}, nil
}

func extractTimestamp(row map[string]interface{}) (time.Time, bool) {
	v, ok := row["timestamp"]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case float64:
		return time.UnixMilli(int64(t)), true
	default:
		return time.Time{}, false
	}
}

// ArtifactDatePrefix returns the object-store prefix every artifact key for
// stream on date falls under: <stream>/date=YYYY-MM-DD/. Callers that need
// to list or diff a date's artifacts (orphan reconciliation, retention
// sweeps) should build their prefix from this instead of guessing the
// layout artifactKey produces.
func ArtifactDatePrefix(stream, date string) string {
	return stream + "/date=" + date + "/"
}

// artifactKey builds <stream>/date=YYYY-MM-DD/hour=HH/minute=MM/<customparts>/<ulid>.parquet,
// using the staging key's minute bucket (not a record's own timestamp
// field) so every file in the group lands under the exact partition its
// StagingKey already committed it to.
func artifactKey(stream string, minuteBucket int64, customParts, ulidSuffix string) string {
	t := time.Unix(minuteBucket*60, 0).UTC()
	hour := "hour=" + t.Format("15")
	minute := "minute=" + t.Format("04")

	custom := strings.ReplaceAll(customParts, ",", "/")
	if custom == "" {
		custom = "_"
	}

	return strings.Join([]string{strings.TrimSuffix(ArtifactDatePrefix(stream, t.Format("2006-01-02")), "/"), hour, minute, custom, ulidSuffix + ".parquet"}, "/")
}

// tombstone renames every converted file to Tombstoned and deletes it.
// Deletion failures are logged, not retried: an orphaned Tombstoned file
// has no manifest reference and is harmless if it lingers.
func (e *Engine) tombstone(files []model.StagingFileName) error {
	for _, name := range files {
		tombstoned := name
		tombstoned.State = model.StagingTombstoned

		oldPath := filepath.Join(e.staging.Dir(), name.String())
		newPath := filepath.Join(e.staging.Dir(), tombstoned.String())
		if err := os.Rename(oldPath, newPath); err != nil {
			log.Printf("convert: failed to tombstone %s: %v", name.String(), err)
			continue
		}
		go func(path string) {
			if err := os.Remove(path); err != nil {
				log.Printf("convert: failed to delete tombstoned file %s: %v", path, err)
			}
		}(newPath)
	}
	return nil
}
