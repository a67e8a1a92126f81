package approval

import (
	"time"

	"github.com/google/uuid"
)

// TemporaryUnapprovalTTL bounds how long a merge request can be forced to
// appear unapproved before the flag expires on its own.
const TemporaryUnapprovalTTL = 10 * time.Minute

// FlagStore is the external key-value store holding temporary-unapproval
// markers. Writers are last-writer-wins; the store is an out-of-band veto and
// shares no atomicity boundary with approval writes.
type FlagStore interface {
	Set(key string, ttl time.Duration)
	Expire(key string)
	IsSet(key string) bool
}

func unapprovedKey(mergeRequestID uuid.UUID) string {
	return "merge_request:" + mergeRequestID.String() + ":unapproved"
}

// NopFlagStore never reports a flag. Useful where temporary unapproval does
// not participate, e.g. read-only reporting paths.
type NopFlagStore struct{}

func (NopFlagStore) Set(string, time.Duration) {}
func (NopFlagStore) Expire(string)             {}
func (NopFlagStore) IsSet(string) bool         { return false }
