package model

import "time"

// RetentionPolicy describes how long a stream's artifacts are kept before
// garbage collection deletes them.
type RetentionPolicy struct {
	Days   int    `json:"days"`
	Action string `json:"action"` // "delete" is currently the only action
}

// StreamConfig is the persistent configuration of one stream.
type StreamConfig struct {
	Name                     string           `json:"name"`
	TimePartitionField       string           `json:"time_partition_field,omitempty"` // empty means ingestion time
	TimePartitionGranularity time.Duration    `json:"time_partition_granularity"`     // minute-level resolution
	CustomPartitionFields    []string         `json:"custom_partition_fields,omitempty"` // up to 3
	StaticSchemaFlag         bool             `json:"static_schema_flag"`
	StaticSchema             Schema           `json:"static_schema,omitempty"`
	Retention                RetentionPolicy  `json:"retention"`
	FirstEventAt             *time.Time       `json:"first_event_at,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
}

const maxCustomPartitionFields = 3

// Validate checks the structural invariants of a StreamConfig.
func (c StreamConfig) Validate() error {
	if len(c.CustomPartitionFields) > maxCustomPartitionFields {
		return errTooManyCustomPartitions
	}
	return nil
}
