// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package tenant

import (
	"context"
	"regexp"

	"github.com/phtran-dev/spax/pkg/errors"
)

// A tenant code doubles as a schema suffix and an object-store path prefix,
// so the character set is deliberately narrow.
var codePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func ValidateCode(code string) error {
	if code == "" || !codePattern.MatchString(code) {
		return errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("invalid tenant code %q", code)
	}
	return nil
}

// SchemaName returns the Postgres schema holding the tenant's tables.
func SchemaName(code string) string {
	return "tenant_" + code
}

type contextKey struct{}

// WithCode stores the resolved tenant code on the request context.
func WithCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, contextKey{}, code)
}

// CodeFromContext returns the tenant code set by the routing middleware.
func CodeFromContext(ctx context.Context) (string, bool) {
	code, ok := ctx.Value(contextKey{}).(string)
	return code, ok
}
