package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCode(t *testing.T) {
	valid := []string{"hospital_a", "abc123", "x", "0_0"}
	for _, code := range valid {
		assert.NoError(t, ValidateCode(code), code)
	}

	invalid := []string{"", "Hospital", "a-b", "a.b", "tenant code", "a/b", "ÅBC"}
	for _, code := range invalid {
		assert.Error(t, ValidateCode(code), code)
	}
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "tenant_hospital_a", SchemaName("hospital_a"))
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithCode(context.Background(), "hospital_a")
	code, ok := CodeFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "hospital_a", code)

	_, ok = CodeFromContext(context.Background())
	assert.False(t, ok)
}
