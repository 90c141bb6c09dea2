// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the authentication and authorization seams of
// the CareOS HTTP API.
//
// The defaults (NopAuthProvider, NopAuthzProvider) suit a single-user
// local install. Deployments configure static tokens and the role table.
package extensions

// ServiceOptions bundles the pluggable providers used by the API server.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens. Default: NopAuthProvider.
	AuthProvider AuthProvider

	// AuthzProvider gates actions. Default: NopAuthzProvider.
	AuthzProvider AuthzProvider
}

// DefaultOptions returns options with no-op providers.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
	}
}

// WithAuth returns a copy with the given authentication provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy with the given authorization provider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}
