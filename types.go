package duplex

import (
	"time"
)

// Well-known record fields maintained by the mirror layer.
const (
	FieldID             = "id"
	FieldName           = "name"
	FieldNameNormalized = "name_normalized"
	FieldCreatedDate    = "created_date"
	FieldUpdatedDate    = "updated_date"
	FieldIsSample       = "is_sample"
)

// TimestampLayout is the ISO-8601 layout used for created_date/updated_date.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is a JSON-compatible document keyed by field name.
type Record map[string]any

// ID returns the record id, or "" when missing or not a string.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	id, _ := r[FieldID].(string)
	return id
}

// Name returns the string name field if present.
func (r Record) Name() (string, bool) {
	if r == nil {
		return "", false
	}
	name, ok := r[FieldName].(string)
	return name, ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new record holding base overlaid with patch (patch wins).
func Merge(base, patch Record) Record {
	out := make(Record, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Criteria maps a field (dotted paths reach nested documents) to the expected
// value. A list value matches when the record field is one of its members.
type Criteria map[string]any

// EntityKind tags an entity handle with its storage policy.
type EntityKind string

const (
	// KindCacheOnly entities live in the Cache backend only.
	KindCacheOnly EntityKind = "cache_only"
	// KindMirrored entities are owned by Primary and accelerated by Cache.
	KindMirrored EntityKind = "mirrored"
)

// EntityPolicy is the static classification of one entity name.
type EntityPolicy struct {
	Name       string   `json:"name" yaml:"name"`
	CacheOnly  bool     `json:"cacheOnly" yaml:"cacheOnly"`
	Searchable bool     `json:"searchable" yaml:"searchable"`
	DateFields []string `json:"dateFields,omitempty" yaml:"dateFields,omitempty"`
}

// Kind maps the policy onto an EntityKind.
func (p EntityPolicy) Kind() EntityKind {
	if p.CacheOnly {
		return KindCacheOnly
	}
	return KindMirrored
}

// BackendRole names one side of the dual store.
type BackendRole string

const (
	RolePrimary BackendRole = "primary"
	RoleCache   BackendRole = "cache"
)

// SortOrder defines sort direction
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// Query is the range-query primitive of a Cache backend. Both bounds are
// inclusive and optional. OrderBy defaults to Field when empty.
type Query struct {
	Field     string    `json:"field,omitempty"`
	GTE       *string   `json:"gte,omitempty"`
	LTE       *string   `json:"lte,omitempty"`
	OrderBy   string    `json:"orderBy,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	// Fresh bypasses any driver-level read cache.
	Fresh bool `json:"fresh,omitempty"`
}

// BatchOpType is the kind of write held in a batch.
type BatchOpType string

const (
	BatchPut    BatchOpType = "put"
	BatchDelete BatchOpType = "delete"
)

// BatchOp is a single write inside an atomic batch.
type BatchOp struct {
	Type BatchOpType
	ID   string
	Data Record
}

// MirrorStatus reports what happened to the non-authoritative copy of a write.
type MirrorStatus string

const (
	MirrorOK      MirrorStatus = "ok"
	MirrorFailed  MirrorStatus = "failed"
	MirrorSkipped MirrorStatus = "skipped" // cache disabled by the circuit breaker
	MirrorNone    MirrorStatus = "none"    // cache-only entity, nothing to mirror
)

// WriteResult makes partial failures of a mirrored write visible.
type WriteResult struct {
	Record      Record       `json:"record"`
	Written     BackendRole  `json:"written"`
	CacheMirror MirrorStatus `json:"cacheMirror"`
	MirrorErr   error        `json:"-"`
}

// RestoreMode selects how a snapshot is applied.
type RestoreMode string

const (
	RestoreReplace RestoreMode = "replace"
	RestoreMerge   RestoreMode = "merge"
)

// SnapshotMetadata describes a backup snapshot.
type SnapshotMetadata struct {
	Timestamp     time.Time `json:"timestamp" cbor:"timestamp"`
	Version       string    `json:"version" cbor:"version"`
	TotalEntities int       `json:"totalEntities" cbor:"totalEntities"`
	TotalRecords  int       `json:"totalRecords" cbor:"totalRecords"`
}

// Snapshot is a portable export of every entity's records.
type Snapshot struct {
	Metadata SnapshotMetadata    `json:"metadata" cbor:"metadata"`
	Data     map[string][]Record `json:"data" cbor:"data"`
}

// EntityNames returns the entity names present in the snapshot.
func (s *Snapshot) EntityNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Data))
	for name := range s.Data {
		names = append(names, name)
	}
	return names
}

// RestoreResult reports how much of a restore actually landed.
type RestoreResult struct {
	Mode      RestoreMode    `json:"mode"`
	Attempted int            `json:"attempted"`
	Restored  int            `json:"restoredCount"`
	Deleted   int            `json:"deleted"`
	Failed    int            `json:"failed"`
	PerEntity map[string]int `json:"perEntity"`
}

// CircuitState is a point-in-time view of the cache circuit breaker.
type CircuitState struct {
	CacheEnabled            bool       `json:"cacheEnabled"`
	ConsecutiveAuthFailures int        `json:"consecutiveAuthFailures"`
	CooldownUntil           *time.Time `json:"cooldownUntil,omitempty"`
}

// HealthReport is the outcome of probing the service dependencies. An open
// circuit does not make the service unhealthy since Primary keeps serving.
type HealthReport struct {
	Healthy bool              `json:"healthy"`
	Circuit CircuitState      `json:"circuit"`
	Checks  map[string]string `json:"checks,omitempty"`
}
