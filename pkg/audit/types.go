package audit

import (
	"encoding/json"
	"time"
)

// Known event actions produced by the content-management host. The tracked
// set is configuration-driven and open: producers may emit actions outside
// this catalog and they are captured as long as configuration tracks them.
const (
	ActionEntryCreate    = "entry.create"
	ActionEntryUpdate    = "entry.update"
	ActionEntryDelete    = "entry.delete"
	ActionEntryPublish   = "entry.publish"
	ActionEntryUnpublish = "entry.unpublish"

	ActionMediaCreate = "media.create"
	ActionMediaUpdate = "media.update"
	ActionMediaDelete = "media.delete"

	ActionMediaFolderCreate = "media-folder.create"
	ActionMediaFolderUpdate = "media-folder.update"
	ActionMediaFolderDelete = "media-folder.delete"

	ActionUserCreate = "user.create"
	ActionUserUpdate = "user.update"
	ActionUserDelete = "user.delete"

	ActionRoleCreate = "role.create"
	ActionRoleUpdate = "role.update"
	ActionRoleDelete = "role.delete"

	ActionAuthSuccess = "admin.auth.success"
	ActionAuthFailure = "admin.auth.failure"
	ActionLogout      = "admin.logout"
)

// MaskToken replaces every sensitive payload value during redaction.
const MaskToken = "[REDACTED]"

// Actor identifies the admin user that triggered an event. A nil Actor on
// an event means the action was system-originated.
type Actor struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
}

// AuditEvent is the raw, producer-supplied event shape. It is transient:
// events are never persisted as-is, only as redacted AuditRecords.
type AuditEvent struct {
	// Action is a dotted event type, e.g. "entry.update".
	Action string `json:"action"`

	// Timestamp is supplied by the producer and may be client-controlled.
	// It is kept for reference but never used for retention decisions.
	Timestamp time.Time `json:"timestamp,omitempty"`

	Actor *Actor `json:"actor,omitempty"`

	// Request context for HTTP-triggered events.
	Endpoint   string `json:"endpoint,omitempty"`
	Method     string `json:"method,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	RequestID  string `json:"requestId,omitempty"`

	// ContentType identifies the affected resource schema, when any.
	ContentType string `json:"contentType,omitempty"`

	// Payload is an arbitrary nested structure (request/response body,
	// diffed fields). Decoded JSON: maps, slices and scalars only.
	Payload interface{} `json:"payload,omitempty"`
}

// AuditRecord is the persisted, immutable form of an admitted event. Its
// Payload has been redacted and its Date is the ingestion timestamp, which
// is authoritative for retention.
type AuditRecord struct {
	ID     int64     `json:"id"`
	Action string    `json:"action"`
	Date   time.Time `json:"date"`

	// EventTime carries the producer-supplied timestamp, if any.
	EventTime time.Time `json:"eventTime,omitempty"`

	ActorID   *int64 `json:"actorId,omitempty"`
	ActorName string `json:"actorName,omitempty"`

	Endpoint    string `json:"endpoint,omitempty"`
	Method      string `json:"method,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	ContentType string `json:"contentType,omitempty"`

	Payload interface{} `json:"payload,omitempty"`
}

// ToJSON serializes the record for export and archival.
func (r *AuditRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
