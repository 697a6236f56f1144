package lookaside

import (
	"encoding/json"
	"fmt"
)

// RouteConfig is the JSON-decodable configuration schema from SPEC_FULL §6.
// It mirrors the teacher's own Config-struct convention
// (cachemanager.Config) rather than inventing a bespoke config-file format:
// this is a sub-object handed to the node by whatever assembles the
// surrounding routing tree.
type RouteConfig struct {
	TTLSeconds   int32         `json:"ttl"`
	Prefix       string        `json:"prefix"`
	Flavor       string        `json:"flavor"`
	KeySplitSize int32         `json:"key_split_size"`
	HelperConfig json.RawMessage `json:"helper_config,omitempty"`
	Lease        LeaseSettings `json:"lease_settings"`
}

// leaseSettingsWire mirrors the snake_case wire schema for LeaseSettings;
// RouteConfig.UnmarshalJSON translates between the two so callers can work
// with the idiomatic Go field names everywhere else in the package.
type leaseSettingsWire struct {
	EnableLeases  bool   `json:"enable_leases"`
	InitialWaitMs int32  `json:"initial_wait_ms"`
	MaxWaitMs     int32  `json:"max_wait_ms"`
	NumRetries    *int32 `json:"num_retries"`
}

func defaultLeaseSettings() LeaseSettings {
	return LeaseSettings{
		Enabled:       false,
		InitialWaitMs: 2,
		MaxWaitMs:     500,
		NumRetries:    10,
	}
}

// UnmarshalJSON applies the §6 defaults (key_split_size=1, flavor="web",
// lease_settings absent => leases disabled) before decoding the wire
// object, and maps lease_settings' snake_case sub-schema onto LeaseSettings.
func (c *RouteConfig) UnmarshalJSON(data []byte) error {
	type wire struct {
		TTL          *int32             `json:"ttl"`
		Prefix       string             `json:"prefix"`
		Flavor       string             `json:"flavor"`
		KeySplitSize *int32             `json:"key_split_size"`
		HelperConfig json.RawMessage    `json:"helper_config,omitempty"`
		Lease        *leaseSettingsWire `json:"lease_settings"`
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	if w.TTL == nil {
		return &ConfigError{Field: "ttl", Reason: "required"}
	}
	c.TTLSeconds = *w.TTL

	c.Prefix = w.Prefix
	c.Flavor = w.Flavor
	if c.Flavor == "" {
		c.Flavor = "web"
	}

	c.KeySplitSize = 1
	if w.KeySplitSize != nil {
		c.KeySplitSize = *w.KeySplitSize
	}

	c.HelperConfig = w.HelperConfig

	c.Lease = defaultLeaseSettings()
	if w.Lease != nil {
		c.Lease = LeaseSettings{
			Enabled:       w.Lease.EnableLeases,
			InitialWaitMs: w.Lease.InitialWaitMs,
			MaxWaitMs:     w.Lease.MaxWaitMs,
			NumRetries:    10,
		}
		if c.Lease.InitialWaitMs == 0 {
			c.Lease.InitialWaitMs = 2
		}
		if c.Lease.MaxWaitMs == 0 {
			c.Lease.MaxWaitMs = 500
		}
		if w.Lease.NumRetries != nil {
			c.Lease.NumRetries = *w.Lease.NumRetries
		}
	}

	return nil
}

// ConfigError reports a malformed RouteConfig, per SPEC_FULL §6's
// validation-errors list (missing child, missing ttl, wrong type,
// non-positive key_split_size). Construction failures of this kind are
// fatal: they prevent route construction entirely, distinct from the
// "missing cache router/client" case which degrades to a pass-through
// (see BuildRoute).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("lookaside: invalid config field %q: %s", e.Field, e.Reason)
}

// Validate checks structural invariants JSON decoding alone can't enforce:
// key_split_size must be positive, and lease wait bounds must be ordered
// (SPEC_FULL §3 invariant iii).
func (c RouteConfig) Validate() error {
	if c.KeySplitSize <= 0 {
		return &ConfigError{Field: "key_split_size", Reason: "must be positive"}
	}
	if c.Lease.InitialWaitMs > c.Lease.MaxWaitMs {
		return &ConfigError{Field: "lease_settings", Reason: "initial_wait_ms must be <= max_wait_ms"}
	}
	if c.Lease.NumRetries < 0 {
		return &ConfigError{Field: "lease_settings.num_retries", Reason: "must be >= 0"}
	}
	return nil
}

// LoadConfig decodes and validates a RouteConfig from JSON.
func LoadConfig(data []byte) (RouteConfig, error) {
	var cfg RouteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RouteConfig{}, fmt.Errorf("lookaside: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RouteConfig{}, err
	}
	return cfg, nil
}

// BuildRoute implements the factory described in SPEC_FULL §4.5's
// "Construction failure policy": it resolves a shared cache router and
// client for cfg.Flavor via registry, and on any failure to do so, logs and
// returns the raw child unchanged — the routing tree degrades to a
// pass-through rather than failing to load. Malformed cfg (caught by
// LoadConfig before this is called) is a fatal construction error instead;
// BuildRoute itself never fails.
func BuildRoute[Req any, Rep any](
	ctx RouteBuildContext,
	child Route[Req, Rep],
	cfg RouteConfig,
	helper Helper[Req],
	codec ReplyCodec[Rep],
) Route[Req, Rep] {
	router, client, err := ctx.Registry.CreateCacheRouter(cfg.Flavor)
	if err != nil {
		ctx.Logf("[WARN] lookaside: cache router unavailable for flavor %q (%v); falling back to raw child %s", cfg.Flavor, err, child.RouteName())
		return child
	}

	return NewLookasideRoute[Req, Rep](child, client, router, cfg, helper, codec, nil, nil)
}

// RouteBuildContext bundles the collaborators BuildRoute needs beyond the
// per-call arguments, so call sites don't have to thread a logger and a
// registry through every invocation separately.
type RouteBuildContext struct {
	Registry *RouterRegistry
	Logf     func(format string, args ...any)
}

// NewRouteBuildContext constructs a RouteBuildContext with a default
// logger matching the rest of this codebase's stdlib-log convention if
// logf is nil.
func NewRouteBuildContext(registry *RouterRegistry, logf func(format string, args ...any)) RouteBuildContext {
	if logf == nil {
		logf = defaultLogf
	}
	return RouteBuildContext{Registry: registry, Logf: logf}
}
