// Package prefixed_uuid generates identifiers of the form "<prefix>-<uuid>",
// used to tag each relayed mesh message in logs.
package prefixed_uuid

import "github.com/google/uuid"

// PrefixedUUID represents a UUID with a prefix string.
type PrefixedUUID struct {
	Prefix string
	UUID   uuid.UUID
}

// New creates a new PrefixedUUID with the given prefix and a generated UUID.
func New(prefix string) PrefixedUUID {
	return PrefixedUUID{Prefix: prefix, UUID: uuid.New()}
}

// String returns the identifier in the format "prefix-uuid".
func (p PrefixedUUID) String() string {
	return p.Prefix + "-" + p.UUID.String()
}
