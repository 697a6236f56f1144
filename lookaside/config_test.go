package lookaside

import (
	"context"
	"errors"
	"testing"
)

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	data := []byte(`{"ttl": 120, "prefix": "p:"}`)
	cfg, err := LoadConfig(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTLSeconds != 120 {
		t.Fatalf("expected ttl 120, got %d", cfg.TTLSeconds)
	}
	if cfg.Flavor != "web" {
		t.Fatalf("expected default flavor web, got %q", cfg.Flavor)
	}
	if cfg.KeySplitSize != 1 {
		t.Fatalf("expected default key_split_size 1, got %d", cfg.KeySplitSize)
	}
	if cfg.Lease.Enabled {
		t.Fatalf("expected leases disabled by default")
	}
	if cfg.Lease.InitialWaitMs != 2 || cfg.Lease.MaxWaitMs != 500 || cfg.Lease.NumRetries != 10 {
		t.Fatalf("expected default lease backoff settings, got %+v", cfg.Lease)
	}
}

func TestLoadConfig_MissingTTLIsFatal(t *testing.T) {
	_, err := LoadConfig([]byte(`{"prefix": "p:"}`))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a *ConfigError, got %v", err)
	}
	if cfgErr.Field != "ttl" {
		t.Fatalf("expected the ttl field to be blamed, got %q", cfgErr.Field)
	}
}

func TestLoadConfig_ExplicitLeaseSettingsOverrideDefaults(t *testing.T) {
	data := []byte(`{
		"ttl": 60,
		"prefix": "p:",
		"lease_settings": {
			"enable_leases": true,
			"initial_wait_ms": 5,
			"max_wait_ms": 100,
			"num_retries": 4
		}
	}`)
	cfg, err := LoadConfig(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Lease.Enabled {
		t.Fatalf("expected leases enabled")
	}
	if cfg.Lease.InitialWaitMs != 5 || cfg.Lease.MaxWaitMs != 100 || cfg.Lease.NumRetries != 4 {
		t.Fatalf("expected explicit lease settings to survive decoding, got %+v", cfg.Lease)
	}
}

func TestLoadConfig_ExplicitZeroNumRetriesIsHonored(t *testing.T) {
	data := []byte(`{
		"ttl": 60,
		"prefix": "p:",
		"lease_settings": {
			"enable_leases": true,
			"initial_wait_ms": 5,
			"max_wait_ms": 100,
			"num_retries": 0
		}
	}`)
	cfg, err := LoadConfig(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lease.NumRetries != 0 {
		t.Fatalf("expected an explicit num_retries of 0 (single attempt, no retries) to be honored, got %d", cfg.Lease.NumRetries)
	}
}

func TestLoadConfig_NonPositiveKeySplitSizeIsRejected(t *testing.T) {
	_, err := LoadConfig([]byte(`{"ttl": 60, "prefix": "p:", "key_split_size": 0}`))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a *ConfigError, got %v", err)
	}
	if cfgErr.Field != "key_split_size" {
		t.Fatalf("expected the key_split_size field to be blamed, got %q", cfgErr.Field)
	}
}

func TestLoadConfig_InitialWaitGreaterThanMaxWaitIsRejected(t *testing.T) {
	data := []byte(`{
		"ttl": 60,
		"prefix": "p:",
		"lease_settings": {"enable_leases": true, "initial_wait_ms": 50, "max_wait_ms": 10}
	}`)
	_, err := LoadConfig(data)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a *ConfigError, got %v", err)
	}
	if cfgErr.Field != "lease_settings" {
		t.Fatalf("expected the lease_settings field to be blamed, got %q", cfgErr.Field)
	}
}

func TestLoadConfig_MalformedJSONIsRejected(t *testing.T) {
	if _, err := LoadConfig([]byte(`{not json`)); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestBuildRoute_FallsBackToRawChildWhenRegistryFails(t *testing.T) {
	child := &fakeChildRoute{reply: testReply{Body: "raw"}}
	registry := NewRouterRegistry(func(flavor string) (*CacheRouter, CacheClient, error) {
		return nil, nil, errBoom
	})
	var logged []string
	buildCtx := NewRouteBuildContext(registry, func(format string, args ...any) {
		logged = append(logged, format)
	})
	helper := candidateHelper(func(testRequest) []byte { return []byte("k") }, true)
	cfg := RouteConfig{TTLSeconds: 60, Prefix: "p:", KeySplitSize: 1}

	route := BuildRoute[testRequest, testReply](buildCtx, child, cfg, helper, jsonlikeCodec{})

	if route != Route[testRequest, testReply](child) {
		t.Fatalf("expected BuildRoute to fall back to the raw child on registry failure")
	}
	if len(logged) != 1 {
		t.Fatalf("expected the fallback to be logged once, got %d", len(logged))
	}
}

func TestBuildRoute_WrapsChildWhenRegistrySucceeds(t *testing.T) {
	child := &fakeChildRoute{reply: testReply{Body: "raw"}}
	client := newFakeCacheClient()
	registry := NewRouterRegistry(func(flavor string) (*CacheRouter, CacheClient, error) {
		return &CacheRouter{Flavor: flavor, Client: client}, client, nil
	})
	buildCtx := NewRouteBuildContext(registry, nil)
	helper := candidateHelper(func(testRequest) []byte { return []byte("k") }, true)
	cfg := RouteConfig{TTLSeconds: 60, Prefix: "p:", KeySplitSize: 1}

	route := BuildRoute[testRequest, testReply](buildCtx, child, cfg, helper, jsonlikeCodec{})

	if route == Route[testRequest, testReply](child) {
		t.Fatalf("expected BuildRoute to wrap the child in a lookaside route")
	}
	if _, err := route.Route(context.Background(), testRequest{ID: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
