// Package queryengine executes parsed SELECT statements against a
// stream's published artifacts (through the hot tier) and, when the
// queried range overlaps recent unpublished data, unions in a live
// fan-out to every reachable ingestor. It supports projection, a WHERE
// clause over comparison/boolean operators, ORDER BY on a single column,
// LIMIT, and COUNT(*)/COUNT(col) -- the surface exercised by the seed
// scenarios, not a general-purpose SQL engine.
package queryengine

import (
	"context"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/cluster"
	"github.com/stratumlake/stratum/internal/hottier"
	"github.com/stratumlake/stratum/internal/manifest"
	"github.com/stratumlake/stratum/internal/query/parser"
)

// MaxStagingAge bounds how far back "now" a query still fans out to live
// ingestors: queries entirely outside [now - MaxStagingAge, now] never
// reach unconverted data, so there's nothing to fan out for.
const MaxStagingAge = 10 * time.Minute

// Result is what Execute returns: a column-projected row set plus whether
// any live ingestor was dropped from the fan-out.
type Result struct {
	Columns []string
	Rows    [][]interface{}
	Partial bool
}

// Engine ties the manifest, hot tier, and cluster gossip together to
// answer a parsed query.
type Engine struct {
	catalog  *catalog.Catalog
	manifest *manifest.Manager
	hotTier  *hottier.Tier
	gossip   *cluster.Gossip // nil in standalone mode: no fan-out
}

// New creates an Engine. gossip may be nil when running standalone.
func New(cat *catalog.Catalog, man *manifest.Manager, tier *hottier.Tier, gossip *cluster.Gossip) *Engine {
	return &Engine{catalog: cat, manifest: man, hotTier: tier, gossip: gossip}
}

// Execute runs stmt over [startTime, endTime], scanning every artifact
// the manifest lists for each date in range, then fanning out to live
// ingestors if the range reaches into the staging window.
func (e *Engine) Execute(ctx context.Context, stmt *parser.SelectStatement, startTime, endTime time.Time) (Result, error) {
	if stmt.From == nil {
		return Result{}, apperrors.NewQueryError(apperrors.CodeQueryUnsupported, "SELECT without FROM is not supported")
	}
	stream := stmt.From.Name
	if _, ok := e.catalog.Get(stream); !ok {
		return Result{}, apperrors.NewQueryError(apperrors.CodeQueryUnsupported, fmt.Sprintf("unknown stream %q", stream))
	}

	rows, err := e.scanArtifacts(ctx, stream, startTime, endTime, prunable(stmt.Where))
	if err != nil {
		return Result{}, err
	}

	partial := false
	if e.gossip != nil && endTime.After(time.Now().Add(-MaxStagingAge)) {
		batches, p, err := e.gossip.FanOutQuery(ctx, cluster.LiveQueryRequest{
			Stream: stream, Query: stmt.String(), StartTime: startTime, EndTime: endTime,
		})
		if err == nil {
			partial = p
			for _, b := range batches {
				for _, raw := range b.Rows {
					row, decodeErr := decodeLiveRow(raw)
					if decodeErr == nil {
						rows = append(rows, row)
					}
				}
			}
		}
	}

	filtered := rows
	if stmt.Where != nil {
		filtered = filtered[:0]
		for _, row := range rows {
			ok, err := evalPredicate(stmt.Where, row)
			if err != nil {
				return Result{}, err
			}
			if ok {
				filtered = append(filtered, row)
			}
		}
	}

	if isCountStar(stmt.Columns) {
		return Result{Columns: []string{"count"}, Rows: [][]interface{}{{int64(len(filtered))}}, Partial: partial}, nil
	}

	cols, projected := project(stmt.Columns, filtered)

	if len(stmt.OrderBy) > 0 {
		sortRows(cols, projected, stmt.OrderBy[0])
	}

	if stmt.Limit != nil && int64(len(projected)) > *stmt.Limit {
		projected = projected[:*stmt.Limit]
	}

	return Result{Columns: cols, Rows: projected, Partial: partial}, nil
}

func (e *Engine) scanArtifacts(ctx context.Context, stream string, startTime, endTime time.Time, predicates []parser.Predicate) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	for d := startTime.UTC(); !d.After(endTime.UTC()); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		man, _, err := e.manifest.LoadLatest(ctx, stream, date)
		if err != nil {
			return nil, err
		}
		for _, artifact := range man.Entries {
			if canSkipArtifact(artifact, predicates) {
				continue
			}
			artifactRows, err := e.readArtifact(ctx, artifact.Key)
			if err != nil {
				continue // a missing or corrupt artifact degrades the result rather than failing the query
			}
			rows = append(rows, artifactRows...)
		}
		if date == endTime.UTC().Format("2006-01-02") {
			break
		}
	}
	return rows, nil
}

func (e *Engine) readArtifact(ctx context.Context, key string) ([]map[string]interface{}, error) {
	localPath, err := e.hotTier.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	f, err := parquetOpen(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewReader(f)
	defer reader.Close()

	var rows []map[string]interface{}
	for {
		row := make(map[string]interface{})
		if err := reader.Read(&row); err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}
