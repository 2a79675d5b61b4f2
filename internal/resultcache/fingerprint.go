package resultcache

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/google/uuid"

	"github.com/dogmahq/dogma"
)

// seed is process-global: fingerprints only ever need to be stable within
// one running Cache, never across restarts or processes, so a single seed
// shared by every Fingerprint call is sufficient and avoids needing a
// *Cache receiver just to hash a tuple.
var seed = maphash.MakeSeed()

// Fingerprint computes the cache key for one operation: a
// (repository, operation kind, revisions, query-or-pattern) tuple.
//
// repositoryID stands in for "repository pointer identity" here: a
// repository's uuid.UUID is already unique and stable for as long as
// anything holds a reference to it, and unlike a raw pointer address it
// remains valid to use as a persistent key after the Repository value
// itself has been garbage collected and potentially reused at the same
// address — exactly the property a cache key needs.
func Fingerprint(repositoryID uuid.UUID, operation string, revisions []dogma.Revision, queryOrPattern string) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(repositoryID[:])
	h.WriteByte(0)
	h.WriteString(operation)
	h.WriteByte(0)
	var b [8]byte
	for _, r := range revisions {
		binary.BigEndian.PutUint64(b[:], uint64(r))
		h.Write(b[:])
	}
	h.WriteByte(0)
	h.WriteString(queryOrPattern)
	return h.Sum64()
}
