package session

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes make the owning type recognisable in logs and storage keys.
const (
	sessionIDPrefix    = "sess_"
	segmentIDPrefix    = "seg_"
	entityIDPrefix     = "ent_"
	taskIDPrefix       = "task_"
	toolIDPrefix       = "tool_"
	checkpointIDPrefix = "chk_"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a prefixed ULID. ULIDs sort lexicographically by creation
// time, so listing IDs yields chronological order for free. Panics if the
// entropy source fails, which indicates a broken runtime environment.
func newID(prefix string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return prefix + id.String()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string { return newID(sessionIDPrefix) }

// NewSegmentID returns a fresh segment identifier.
func NewSegmentID() string { return newID(segmentIDPrefix) }

// NewEntityID returns a fresh entity identifier.
func NewEntityID() string { return newID(entityIDPrefix) }

// NewTaskID returns a fresh task identifier.
func NewTaskID() string { return newID(taskIDPrefix) }

// NewToolID returns a fresh tool invocation identifier.
func NewToolID() string { return newID(toolIDPrefix) }

// NewCheckpointID returns a fresh checkpoint identifier.
func NewCheckpointID() string { return newID(checkpointIDPrefix) }

// ShortID returns a compact display form of an identifier: the type
// prefix is dropped and the first eight characters are kept.
func ShortID(id string) string {
	if i := strings.Index(id, "_"); i >= 0 && i+1 < len(id) {
		id = id[i+1:]
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
