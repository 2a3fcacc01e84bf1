package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextInjectsFields(t *testing.T) {
	logger := New("trust-registry", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithTenant(ctx, "tenant-7")
	logger.WithContext(ctx).Info("hello")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "trace-123", decoded["trace_id"])
	assert.Equal(t, "tenant-7", decoded["tenant_id"])
	assert.Equal(t, "trust-registry", decoded["service"])
}

func TestGetTraceIDDefaultsEmpty(t *testing.T) {
	assert.Equal(t, "", GetTraceID(context.Background()))
	assert.Equal(t, "", GetTenant(context.Background()))
}

func TestLogTrustTransitionDoesNotPanic(t *testing.T) {
	logger := New("trust-registry", "info", "text")
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.LogTrustTransition(context.Background(), 42, "suspect", "quarantined", "attestation:untrusted")
	assert.Contains(t, buf.String(), "trust transition")
}
