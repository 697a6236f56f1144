package lookaside

// Helper is documented on the interface declaration in route.go; this file
// holds small reusable adapters around it.

// StaticHelper wraps fixed cacheability/key functions, useful for tests and
// for simple routes where the policy doesn't depend on injected state.
type StaticHelper[Req any] struct {
	CandidateFn func(Req) bool
	KeyFn       func(Req) []byte
	HelperName  string
}

func (h StaticHelper[Req]) CacheCandidate(req Req) bool { return h.CandidateFn(req) }
func (h StaticHelper[Req]) BuildKey(req Req) []byte     { return h.KeyFn(req) }
func (h StaticHelper[Req]) Name() string                { return h.HelperName }
