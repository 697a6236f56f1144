package lookaside

// ResultClass discriminates the outcome of a cache-facing wire operation.
type ResultClass int

const (
	// ClassMiss means the key was not present (or, for a lease op, the
	// caller won/observed a miss and may hold a lease token).
	ClassMiss ResultClass = iota
	// ClassHit means the key was present and Payload is populated.
	ClassHit
	// ClassOther covers transport errors, timeouts, and anything else
	// that is neither a definite hit nor a definite miss.
	ClassOther
)

// LeaseToken is the 64-bit opaque value minted by the cache on a lease miss.
//
// HotMissToken is the reserved sentinel: another requester already holds
// the real lease and the receiver must back off and retry. NoLease (0)
// means there is no active lease — used when leases are disabled or the
// read path never asked for one.
type LeaseToken int64

const (
	NoLease      LeaseToken = 0
	HotMissToken LeaseToken = 1
)

// CacheResult is the reply shape for GET, LEASE_GET, SET, and LEASE_SET.
// Not every field is meaningful for every op: Token is only set by
// LEASE_GET, Payload only by the GET-family ops, Stored only by SET-family
// ops.
type CacheResult struct {
	Class   ResultClass
	Payload []byte
	Token   LeaseToken
	Stored  bool
}
