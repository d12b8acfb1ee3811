package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/stratumlake/stratum/pkg/ulid"
)

// StagingFileState is the lifecycle state of a staging file, transitioned
// exclusively by filename rename so ownership never needs an in-memory
// handoff between the staging engine and the conversion engine.
type StagingFileState string

const (
	StagingOpen       StagingFileState = "open"
	StagingRotated    StagingFileState = "rotated"
	StagingClaimed    StagingFileState = "claimed"
	StagingTombstoned StagingFileState = "tombstoned"
)

// StagingKey identifies the (stream, minute, customparts, fingerprint)
// bucket that determines which Open staging file a record is routed to.
type StagingKey struct {
	Stream        string
	MinuteBucket  int64 // unix minute
	CustomParts   string
	Fingerprint   uint64
}

// StagingFileName encodes <hostname>.<stream>.<minute>.<customparts>.<fingerprint>.<ulid>.part
type StagingFileName struct {
	Hostname    string
	Stream      string
	Minute      int64
	CustomParts string
	Fingerprint uint64
	ULID        ulid.ULID
	State       StagingFileState
}

func (n StagingFileName) extension() string {
	switch n.State {
	case StagingRotated:
		return "rotated"
	case StagingClaimed:
		return "claimed"
	case StagingTombstoned:
		return "tombstoned"
	default:
		return "part"
	}
}

// String renders the on-disk filename for n.
func (n StagingFileName) String() string {
	custom := n.CustomParts
	if custom == "" {
		custom = "_"
	}
	return fmt.Sprintf("%s.%s.%d.%s.%x.%s.%s",
		n.Hostname, n.Stream, n.Minute, custom, n.Fingerprint, n.ULID.String(), n.extension())
}

// ParseStagingFileName recovers a StagingFileName from its on-disk form.
func ParseStagingFileName(s string) (StagingFileName, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 7 {
		return StagingFileName{}, fmt.Errorf("staging: malformed filename %q", s)
	}

	var minute int64
	if _, err := fmt.Sscanf(parts[2], "%d", &minute); err != nil {
		return StagingFileName{}, fmt.Errorf("staging: bad minute in %q: %w", s, err)
	}

	var fp uint64
	if _, err := fmt.Sscanf(parts[4], "%x", &fp); err != nil {
		return StagingFileName{}, fmt.Errorf("staging: bad fingerprint in %q: %w", s, err)
	}

	id, err := ulid.Parse(parts[5])
	if err != nil {
		return StagingFileName{}, fmt.Errorf("staging: bad ulid in %q: %w", s, err)
	}

	custom := parts[3]
	if custom == "_" {
		custom = ""
	}

	var state StagingFileState
	switch parts[6] {
	case "part":
		state = StagingOpen
	case "rotated":
		state = StagingRotated
	case "claimed":
		state = StagingClaimed
	case "tombstoned":
		state = StagingTombstoned
	default:
		return StagingFileName{}, fmt.Errorf("staging: unknown state suffix %q", parts[6])
	}

	return StagingFileName{
		Hostname:    parts[0],
		Stream:      parts[1],
		Minute:      minute,
		CustomParts: custom,
		Fingerprint: fp,
		ULID:        id,
		State:       state,
	}, nil
}

// MinuteBucket truncates t to the minute, expressed as a unix-minute integer.
func MinuteBucket(t time.Time) int64 {
	return t.UTC().Unix() / 60
}
