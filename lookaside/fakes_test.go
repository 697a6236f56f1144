package lookaside

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// request/reply types used across the package's tests.
type testRequest struct {
	ID string
}

type testReply struct {
	Body string
}

// jsonlikeCodec is a tiny deterministic codec standing in for the injected
// binary codec (SPEC_FULL §3). "serialized form" here is just the Body
// string itself, prefixed so corrupt payloads are easy to manufacture in
// tests (anything not starting with the prefix fails to unmarshal).
type jsonlikeCodec struct{}

const codecPrefix = "v1:"

func (jsonlikeCodec) Marshal(r testReply) ([]byte, error) {
	return []byte(codecPrefix + r.Body), nil
}

func (jsonlikeCodec) Unmarshal(data []byte) (testReply, error) {
	s := string(data)
	if len(s) < len(codecPrefix) || s[:len(codecPrefix)] != codecPrefix {
		return testReply{}, fmt.Errorf("jsonlikeCodec: bad payload %q", s)
	}
	return testReply{Body: s[len(codecPrefix):]}, nil
}

// fakeChildRoute counts invocations and returns scripted replies/errors in
// order, matching the hand-rolled-fake style of cache-manager/service_test.go.
type fakeChildRoute struct {
	mu      sync.Mutex
	calls   int
	reply   testReply
	err     error
	lastReq testRequest
}

func (f *fakeChildRoute) Route(ctx context.Context, req testRequest) (testReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	return f.reply, f.err
}

func (f *fakeChildRoute) Traverse(ctx context.Context, visitor func(Route[testRequest, testReply])) {
	visitor(f)
}

func (f *fakeChildRoute) RouteName() string { return "fake-child" }

func (f *fakeChildRoute) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeCacheClient is an in-memory stand-in for the wire cache, with
// scriptable LEASE_GET sequences so lease-read tests can drive specific
// hot-miss/grant sequences deterministically (SPEC_FULL §8 scenario S3).
type fakeCacheClient struct {
	mu sync.Mutex

	store map[string][]byte

	leaseGetSequence []CacheResult // consumed in order; last one repeats
	leaseGetCalls    int

	getCalls    int
	setCalls    []setCall
	leaseSetCalls []leaseSetCall
	deleteCalls []string

	getErr      error
	leaseGetErr error
	setErr      error
	leaseSetErr error

	leaseSetStored bool
}

type setCall struct {
	key   string
	value []byte
	ttl   int32
}

type leaseSetCall struct {
	key   string
	value []byte
	ttl   int32
	token LeaseToken
}

func newFakeCacheClient() *fakeCacheClient {
	return &fakeCacheClient{store: make(map[string][]byte), leaseSetStored: true}
}

func (f *fakeCacheClient) Get(ctx context.Context, key []byte) (CacheResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return CacheResult{Class: ClassOther}, f.getErr
	}
	if payload, ok := f.store[string(key)]; ok {
		return CacheResult{Class: ClassHit, Payload: payload}, nil
	}
	return CacheResult{Class: ClassMiss}, nil
}

func (f *fakeCacheClient) LeaseGet(ctx context.Context, key []byte) (CacheResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseGetErr != nil {
		return CacheResult{}, f.leaseGetErr
	}
	idx := f.leaseGetCalls
	if idx >= len(f.leaseGetSequence) {
		idx = len(f.leaseGetSequence) - 1
	}
	f.leaseGetCalls++
	if idx < 0 {
		return CacheResult{Class: ClassMiss, Token: HotMissToken}, nil
	}
	return f.leaseGetSequence[idx], nil
}

func (f *fakeCacheClient) Set(ctx context.Context, key, value []byte, ttlSeconds int32) (CacheResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return CacheResult{Class: ClassOther}, f.setErr
	}
	f.setCalls = append(f.setCalls, setCall{key: string(key), value: append([]byte(nil), value...), ttl: ttlSeconds})
	f.store[string(key)] = value
	return CacheResult{Stored: true}, nil
}

func (f *fakeCacheClient) LeaseSet(ctx context.Context, key, value []byte, ttlSeconds int32, token LeaseToken) (CacheResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseSetErr != nil {
		return CacheResult{Class: ClassOther}, f.leaseSetErr
	}
	f.leaseSetCalls = append(f.leaseSetCalls, leaseSetCall{key: string(key), value: append([]byte(nil), value...), ttl: ttlSeconds, token: token})
	if f.leaseSetStored {
		f.store[string(key)] = value
	}
	return CacheResult{Stored: f.leaseSetStored}, nil
}

func (f *fakeCacheClient) Delete(ctx context.Context, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, string(key))
	delete(f.store, string(key))
	return nil
}

func (f *fakeCacheClient) setCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

func (f *fakeCacheClient) leaseSetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.leaseSetCalls)
}

var errBoom = errors.New("boom")

// fixedHostIdentity overrides KeyComposer's host-identity seam with a fixed
// value so key-split suffix tests are deterministic regardless of the
// machine running them.
type fixedHostIdentity uint64

func (f fixedHostIdentity) HostID() uint64 { return uint64(f) }

// fakeObserver records every call a LookasideRoute makes against the
// Observer interface, so tests can assert on the exact sequence without
// standing up real pubsub.
type fakeObserver struct {
	mu          sync.Mutex
	reads       []observedRead
	writeErrors int
}

type observedRead struct {
	hit     bool
	latency time.Duration
}

func (o *fakeObserver) ObserveRead(hit bool, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reads = append(o.reads, observedRead{hit: hit, latency: latency})
}

func (o *fakeObserver) ObserveWriteError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writeErrors++
}

func (o *fakeObserver) readCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reads)
}

func (o *fakeObserver) writeErrorCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeErrors
}
