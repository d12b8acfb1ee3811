package queryengine

import (
	"encoding/json"
	"os"
)

// parquetOpen opens a hot-tier-resident artifact for reading. Split out
// so tests can stub artifact bytes without touching the filesystem.
func parquetOpen(localPath string) (*os.File, error) {
	return os.Open(localPath)
}

// decodeLiveRow decodes one row a live ingestor returned from
// /api/v1/query-live into the same map[string]interface{} shape artifact
// rows are read into, so projection/filtering/sorting treat both
// uniformly.
func decodeLiveRow(raw json.RawMessage) (map[string]interface{}, error) {
	var row map[string]interface{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}
