// Package cacheclient provides concrete bindings for the memcache-like
// cache the lookaside package consults. The core treats the cache as an
// injected handle (lookaside.CacheClient); this package supplies the one
// production binding this repository carries — a Redis-backed
// implementation — plus the router-registry factory that wires it into
// lookaside.RouterRegistry.
package cacheclient

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"encore.app/lookaside"
)

// newLeaseToken mints a random nonzero 63-bit token, avoiding the reserved
// HotMissToken sentinel (1) and the NoLease sentinel (0).
func newLeaseToken() (lookaside.LeaseToken, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return lookaside.NoLease, fmt.Errorf("cacheclient: mint lease token: %w", err)
		}
		token := lookaside.LeaseToken(binary.BigEndian.Uint64(buf[:]) &^ (1 << 63))
		if token != lookaside.NoLease && token != lookaside.HotMissToken {
			return token, nil
		}
	}
}

// Factory builds a (*lookaside.CacheRouter, lookaside.CacheClient) pair for
// a flavor, suitable as a lookaside.RouterFactory. One Factory instance
// backs every flavor it is asked for; the flavor is passed to newClient,
// so per-flavor Redis databases or key namespaces are chosen there.
type Factory struct {
	newClient func(flavor string) (lookaside.CacheClient, error)
}

// NewFactory builds a Factory from a constructor that produces one
// lookaside.CacheClient per flavor (e.g. pointed at different Redis
// databases or key prefixes per flavor).
func NewFactory(newClient func(flavor string) (lookaside.CacheClient, error)) *Factory {
	return &Factory{newClient: newClient}
}

// Build implements lookaside.RouterFactory.
func (f *Factory) Build(flavor string) (*lookaside.CacheRouter, lookaside.CacheClient, error) {
	client, err := f.newClient(flavor)
	if err != nil {
		return nil, nil, err
	}
	return &lookaside.CacheRouter{Flavor: flavor, Client: client}, client, nil
}
