package lookaside

import (
	"bytes"
	"os"
	"strconv"
)

// HostIdentity supplies the stable per-process host identifier used to
// derive the key-split suffix. Tests override this seam instead of relying
// on real process/host state (SPEC_FULL §9, "key-split determinism").
type HostIdentity interface {
	HostID() uint64
}

// processHostIdentity derives a host id from the OS hostname. Good enough
// to spread load across machines; not claimed to be collision-free, only
// stable for the process lifetime, which is all the spec requires.
type processHostIdentity struct{}

func (processHostIdentity) HostID() uint64 {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return 0
	}
	var h uint64 = 14695981039346656037 // FNV-1a 64-bit offset basis
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211 // FNV-1a 64-bit prime
	}
	return h
}

// KeyComposer assembles the final cache key: keyPrefix || logicalKey ||
// keySuffix. keySuffix is computed once at construction and never changes
// (SPEC_FULL §3 invariant ii, §4.2).
type KeyComposer struct {
	suffix []byte
}

// NewKeyComposer builds a composer for the given split size. identity may
// be nil, in which case the real per-process host identity is used.
func NewKeyComposer(keySplitSize int32, identity HostIdentity) *KeyComposer {
	if identity == nil {
		identity = processHostIdentity{}
	}
	if keySplitSize <= 1 {
		return &KeyComposer{}
	}
	shard := identity.HostID() % uint64(keySplitSize)
	return &KeyComposer{suffix: []byte(":ks" + strconv.FormatUint(shard, 10))}
}

// Compose concatenates prefix, logical key, and the (possibly empty)
// key-split suffix into the final cache key.
func (k *KeyComposer) Compose(prefix, logicalKey []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(logicalKey)+len(k.suffix))
	out = append(out, prefix...)
	out = append(out, logicalKey...)
	out = append(out, k.suffix...)
	return out
}

// Suffix returns the computed key-split suffix, for diagnostics and tests.
// Callers that need the exact wire key a lookaside route would have used
// (such as invalidation.Service.InvalidateLookasideKey) go through Compose.
func (k *KeyComposer) Suffix() []byte {
	return bytes.Clone(k.suffix)
}
