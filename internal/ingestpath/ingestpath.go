// Package ingestpath holds the append-to-staging logic shared by every
// producer of records: the HTTP ingest handler and the optional
// message-bus consumer. Both resolve a stream's schema, reconcile each
// record against it, and append the batch to the staging engine under
// the same StagingKey rules.
package ingestpath

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/staging"
)

// MaxBatchBytes is the oversize-batch cutoff shared by every ingest
// entrypoint (HTTP body, bus message).
const MaxBatchBytes = 10 * 1024 * 1024

// DecodeRows accepts either a JSON array of objects or newline-delimited
// JSON objects (NDJSON).
func DecodeRows(body []byte) ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var rows []map[string]interface{}
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var rows []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxBatchBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// groupKey is the per-record (minute, custom-part values, fingerprint)
// tuple records are grouped by before staging.
type groupKey struct {
	minute      int64
	customParts string
	fingerprint uint64
}

// Append reconciles every row in rows against stream's schema, computes
// each record's (minute_bucket, custom_part_values) independently, and
// appends each resulting group to the staging engine under its own
// StagingKey. customPartitionHeader is the raw X-P-Custom-Partition
// value (a comma-separated list of field names); when empty, the
// stream's configured CustomPartitionFields are used instead. It returns
// the total number of records appended.
func Append(ctx context.Context, cat *catalog.Catalog, reg *schema.Registry, stagingEngine *staging.Engine, stream, customPartitionHeader string, rows []map[string]interface{}) (int, error) {
	cfg, ok := cat.Get(stream)
	if !ok {
		return 0, apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "unknown stream: "+stream)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	partitionFields := cfg.CustomPartitionFields
	if customPartitionHeader != "" {
		partitionFields = strings.Split(customPartitionHeader, ",")
	}

	groups := make(map[groupKey][]json.RawMessage)
	var order []groupKey

	for i, row := range rows {
		incoming := schema.Infer(row)
		result, err := reg.Reconcile(ctx, cfg, incoming)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}

		raw, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}

		key := groupKey{
			minute:      MinuteBucketFor(cfg, row),
			customParts: CustomPartitionValue(partitionFields, row),
			fingerprint: result.Fingerprint,
		}
		if _, exists := groups[key]; !exists {
			order = append(order, key)
		}
		groups[key] = append(groups[key], raw)
	}

	total := 0
	for _, key := range order {
		records := groups[key]
		stagingKey := model.StagingKey{
			Stream:       stream,
			MinuteBucket: key.minute,
			CustomParts:  key.customParts,
			Fingerprint:  key.fingerprint,
		}
		if err := stagingEngine.Append(ctx, stagingKey, records); err != nil {
			return total, err
		}
		total += len(records)
	}
	return total, nil
}

// CustomPartitionValue renders the ordered custom-partition field values
// present on row as a "field=value,field2=value2" string -- the form
// stored on StagingKey.CustomParts and, with '/' substituted for ',',
// used as the artifact key's partition segment. Fields absent from row
// are skipped rather than encoded as empty.
func CustomPartitionValue(fields []string, row map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := row[f]
		if !ok || v == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", f, v))
	}
	return strings.Join(parts, ",")
}

// MinuteBucketFor resolves the minute bucket a record routes to: the
// stream's configured time-partition field if set, else ingestion time.
func MinuteBucketFor(cfg model.StreamConfig, row map[string]interface{}) int64 {
	if cfg.TimePartitionField == "" {
		return model.MinuteBucket(time.Now().UTC())
	}
	v, ok := row[cfg.TimePartitionField]
	if !ok {
		return model.MinuteBucket(time.Now().UTC())
	}
	s, ok := v.(string)
	if !ok {
		return model.MinuteBucket(time.Now().UTC())
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return model.MinuteBucket(time.Now().UTC())
	}
	return model.MinuteBucket(t)
}
