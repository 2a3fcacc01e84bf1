package attestation

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/hexutil"
)

func TestVerifyMissingEvidenceIsUntrusted(t *testing.T) {
	out := Verify(nil, Config{}, time.Now())
	assert.Equal(t, StatusUntrusted, out.Status)
	assert.Contains(t, out.Notes, "attestation:missing-evidence")
}

func TestVerifyUnknownShapeReturnsUnknown(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"some_field": "value"})
	out := Verify(raw, Config{}, time.Now())
	assert.Equal(t, StatusUnknown, out.Status)
	assert.Equal(t, KindUnknown, out.Kind)
}

func TestVerifyTPMTrustedSignatureAndMeasurement(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	claimsMap := map[string]any{"server_id": "42"}
	canonical, err := json.Marshal(claimsMap)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, canonical)

	measurement := "AABBCC"
	evidence := map[string]any{
		"quote":       "opaque-quote-blob",
		"measurement": measurement,
		"timestamp":   now.Format(time.RFC3339),
		"signature":   hexutil.EncodeToString(sig),
		"public_key":  hexutil.EncodeToString(pub),
		"server_id":   "42",
	}
	raw, err := json.Marshal(evidence)
	require.NoError(t, err)

	out := Verify(raw, Config{
		TrustedMeasurements: []string{measurement},
		MaxAge:              300 * time.Second,
	}, now.Add(10*time.Second))

	require.Equal(t, StatusTrusted, out.Status)
	assert.Equal(t, KindTPM, out.Kind)
	require.NotNil(t, out.FreshnessDeadline)
	assert.Equal(t, now.Add(300*time.Second), *out.FreshnessDeadline)
}

func TestVerifyTPMRejectsStaleEvidence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evidence := map[string]any{
		"quote":       "blob",
		"measurement": "AABBCC",
		"timestamp":   now.Format(time.RFC3339),
		"signature":   hexutil.EncodeToString(make([]byte, 64)),
	}
	raw, _ := json.Marshal(evidence)

	out := Verify(raw, Config{TrustedMeasurements: []string{"aabbcc"}, MaxAge: 300 * time.Second}, now.Add(10*time.Minute))
	assert.Equal(t, StatusUntrusted, out.Status)
	assert.Contains(t, out.Notes, "attestation:stale")
}

func TestVerifyTPMRejectsUntrustedMeasurement(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evidence := map[string]any{
		"quote":       "blob",
		"measurement": "DEADBEEF",
		"timestamp":   now.Format(time.RFC3339),
		"signature":   hexutil.EncodeToString(make([]byte, 64)),
	}
	raw, _ := json.Marshal(evidence)

	out := Verify(raw, Config{TrustedMeasurements: []string{"aabbcc"}, MaxAge: 300 * time.Second}, now)
	assert.Equal(t, StatusUntrusted, out.Status)
	assert.Contains(t, out.Notes, "attestation:untrusted-measurement")
}

func TestVerifySEVSNPSkipsSignatureCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evidence := map[string]any{
		"amd_sev_snp": map[string]any{
			"measurement": "BEEFCAFE",
		},
		"timestamp": now.Format(time.RFC3339),
	}
	raw, _ := json.Marshal(evidence)

	out := Verify(raw, Config{TrustedMeasurements: []string{"beefcafe"}, MaxAge: 300 * time.Second}, now)
	assert.Equal(t, StatusTrusted, out.Status)
	assert.Equal(t, KindSEVSNP, out.Kind)
}
