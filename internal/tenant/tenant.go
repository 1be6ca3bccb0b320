/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tenant carries the tenant identifier that scopes every row in
// the store to the organization that owns it. centrix-ci is multi-tenant
// at the row level only — quota enforcement and namespace mapping belong
// to a deployment's ingress layer, not to this package.
package tenant

import "context"

type ctxKey struct{}

// WithID returns a context carrying tenantID for downstream store calls.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext returns the tenant ID carried by ctx, or "" if none was set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
