// Package compress implements the threshold-based payload compression
// engine (spec §3, §4.3): profile resolution per tenant/api-key, gzip
// encode/decode of the payload, and the permessage-deflate transport hint.
//
// Gzip (stdlib compress/gzip) is used rather than a third-party codec: the
// wire contract in §4.3/§6 is pinned to headers["x-compression"]="gzip", so
// swapping codecs would break interop with any KEI-Stream peer — see
// DESIGN.md for the full justification.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package compress

// Profile mirrors spec §3/§4.3's compression profile fields.
type Profile struct {
	WSPermessageDeflate bool
	PayloadCompression  bool
	Level               int
	ThresholdBytes      int64
	MaxPayloadBytes     int64
}

func DefaultProfile() Profile {
	return Profile{
		PayloadCompression: true,
		Level:              6,
		ThresholdBytes:     1024,
		MaxPayloadBytes:     8 << 20,
	}
}

// Resolver resolves the active profile with api_key overlay > tenant
// overlay > default (§4.3).
type Resolver struct {
	Default      Profile
	ByTenant     map[string]Profile
	ByAPIKey     map[string]Profile
}

func NewResolver(dflt Profile) *Resolver {
	return &Resolver{
		Default:  dflt,
		ByTenant: map[string]Profile{},
		ByAPIKey: map[string]Profile{},
	}
}

func (r *Resolver) SetTenantOverlay(tenant string, p Profile) { r.ByTenant[tenant] = p }
func (r *Resolver) SetAPIKeyOverlay(apiKey string, p Profile) { r.ByAPIKey[apiKey] = p }

// Resolve returns the profile in effect for the given tenant/api_key.
func (r *Resolver) Resolve(tenant, apiKey string) Profile {
	if apiKey != "" {
		if p, ok := r.ByAPIKey[apiKey]; ok {
			return p
		}
	}
	if tenant != "" {
		if p, ok := r.ByTenant[tenant]; ok {
			return p
		}
	}
	return r.Default
}

// TransportHint computes the permessage-deflate extension string advertised
// on connect (§4.3).
func (p Profile) TransportHint() string {
	if !p.WSPermessageDeflate {
		return ""
	}
	return "permessage-deflate; server_no_context_takeover; client_no_context_takeover"
}
