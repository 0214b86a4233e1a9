package store

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Key is the typed record key. The store owns the raw formatting; callers
// never concatenate key strings themselves. Namespace and Entity are
// required, ID identifies the owning principal (user, device, identifier),
// and Field optionally addresses a sub-record such as a delivery channel.
//
// Segments must not contain ':'.
type Key struct {
	Namespace string
	Entity    string
	ID        string
	Field     string
}

// String renders the raw backend key.
func (k Key) String() string {
	raw := k.Namespace + ":" + k.Entity + ":" + k.ID
	if k.Field != "" {
		raw += ":" + k.Field
	}
	return raw
}

var errMalformedKey = errors.New("malformed record key")

// ParseKey reverses [Key.String].
func ParseKey(raw string) (Key, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return Key{}, errMalformedKey
	}
	k := Key{Namespace: parts[0], Entity: parts[1], ID: parts[2]}
	if len(parts) == 4 {
		k.Field = parts[3]
	}
	return k, nil
}

// Prefix returns the raw-key prefix covering every record of an entity type,
// making "list all records of type X" a first-class query. An empty entity
// covers the whole namespace.
func Prefix(namespace, entity string) string {
	if entity == "" {
		return namespace + ":"
	}
	return namespace + ":" + entity + ":"
}

// Record is the persisted envelope around every stored value. Exactly one of
// Value (plain) or Sealed (codec output) is populated, indicated by Encoded.
// A record whose ExpiresAt lies in the past is logically absent: every read
// path checks and evicts it before returning a value.
type Record struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Encoded   bool            `json:"encoded"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Sealed    string          `json:"sealed,omitempty"`
}

// Expired reports whether the record is logically absent at the given
// instant.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}
